package vfs

import (
	"strings"

	"github.com/fruitsalade/mediafs/internal/storage"
)

// MarkerName is the leaf name of the zero-byte object that makes a folder
// visible while it has no other content.
const MarkerName = ".keep"

// FullKey is the object store key for p inside account's namespace:
// "acct/Trips/a.jpg". Only this package builds keys.
func FullKey(accountID string, p Path) string {
	if p.IsRoot() {
		return accountID
	}
	return accountID + storage.Delimiter + strings.Join(p.segs, storage.Delimiter)
}

// ListPrefix is the prefix whose immediate children are p's children.
func ListPrefix(accountID string, p Path) string {
	return FullKey(accountID, p) + storage.Delimiter
}

// MarkerKey is the key of folder p's marker object.
func MarkerKey(accountID string, p Path) string {
	return ListPrefix(accountID, p) + MarkerName
}

// IsMarker reports whether an object's leaf name marks a folder.
func IsMarker(objectName string) bool {
	if i := strings.LastIndex(objectName, storage.Delimiter); i >= 0 {
		objectName = objectName[i+1:]
	}
	return objectName == MarkerName
}
