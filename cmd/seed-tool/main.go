// seed-tool populates a media server with test data.
//
// It walks a local directory (-data flag or /testdata default), creates a
// folder for every subdirectory whose name is a valid folder name, and
// uploads the files of each directory in batches through the HTTP API, so
// every image goes through the server's optimization pipeline.
package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fruitsalade/mediafs/internal/auth"
	"github.com/fruitsalade/mediafs/internal/client"
	"github.com/fruitsalade/mediafs/internal/logging"
	"github.com/fruitsalade/mediafs/internal/vfs"
)

func main() {
	dataDir := flag.String("data", "/testdata", "Directory with seed files")
	serverURL := flag.String("server", "http://localhost:8080", "Media server base URL")
	account := flag.String("account", "seed", "Account to seed")
	preset := flag.String("preset", "", "Optimization preset (server default when empty)")
	batchSize := flag.Int("batch", vfs.DefaultMaxFiles, "Files per upload request")
	flag.Parse()

	// Initialize logging
	if err := logging.Init(logging.Config{Level: "info", Format: "console"}); err != nil {
		panic("logging init: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("MediaFS seed-tool starting...",
		zap.String("data", *dataDir),
		zap.String("server", *serverURL),
		zap.String("account", *account))

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		logging.Fatal("JWT_SECRET is required to sign the seed token")
	}
	token, err := auth.New(secret).IssueToken(*account, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	if err != nil {
		logging.Fatal("token signing failed", zap.Error(err))
	}

	ctx := context.Background()
	c := client.New(client.Config{BaseURL: *serverURL, AuthToken: token})

	// Wait for the server
	for i := 0; i < 15; i++ {
		if err = c.Ping(ctx); err == nil {
			break
		}
		logging.Info("waiting for media server", zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		logging.Fatal("media server unreachable", zap.Error(err))
	}

	s := &seeder{client: c, preset: *preset, batchSize: max(*batchSize, 1)}
	if err := s.seedDir(ctx, *dataDir, vfs.Root); err != nil {
		logging.Fatal("seeding failed", zap.Error(err))
	}

	logging.Info("seed complete",
		zap.Int("folders", s.folders),
		zap.Int("uploaded", s.uploaded),
		zap.Int("rejected", s.rejected),
		zap.Int("skipped", s.skipped))
}

type seeder struct {
	client    *client.Client
	preset    string
	batchSize int

	folders, uploaded, rejected, skipped int
}

// seedDir mirrors dir into folder, then recurses into subdirectories.
func (s *seeder) seedDir(ctx context.Context, dir string, folder vfs.Path) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var batch []client.UploadFile
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		res, err := s.client.Upload(ctx, folder, s.preset, batch)
		if err != nil {
			return err
		}
		s.uploaded += res.Succeeded
		s.rejected += res.Failed
		for _, it := range res.Items {
			if !it.OK() {
				logging.Warn("file rejected", zap.Stringer("path", it.Path), zap.Error(it.Err))
			}
		}
		batch = batch[:0]
		return nil
	}

	var subdirs []os.DirEntry
	for _, e := range entries {
		if e.IsDir() {
			subdirs = append(subdirs, e)
			continue
		}
		if !e.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return err
		}
		batch = append(batch, client.UploadFile{Name: e.Name(), Data: data})
		if len(batch) == s.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	for _, e := range subdirs {
		if err := vfs.ValidateName(e.Name()); err != nil {
			logging.Warn("directory skipped", zap.String("dir", filepath.Join(dir, e.Name())), zap.Error(err))
			s.skipped++
			continue
		}
		child, _ := folder.Join(e.Name())
		if _, err := s.client.CreateFolder(ctx, folder, e.Name()); err != nil && !client.IsConflict(err) {
			return err
		}
		s.folders++
		if err := s.seedDir(ctx, filepath.Join(dir, e.Name()), child); err != nil {
			return err
		}
	}
	return nil
}
