package objectstore

import (
	"fmt"
	"path"
	"strings"
)

// Location is a parsed report location: either a local directory or an S3
// bucket and key prefix.
type Location struct {
	// Bucket is set for s3:// locations.
	Bucket string
	// Prefix is the key prefix inside the bucket, or the directory path for
	// local locations.
	Prefix string
}

// IsS3 reports whether the location points into an S3 bucket.
func (l Location) IsS3() bool {
	return l.Bucket != ""
}

func (l Location) String() string {
	if l.IsS3() {
		return "s3://" + path.Join(l.Bucket, l.Prefix)
	}
	return l.Prefix
}

// ParseLocation parses "s3://bucket/prefix" or a filesystem path.
func ParseLocation(loc string) (Location, error) {
	if loc == "" {
		return Location{}, fmt.Errorf("objectstore: empty location")
	}
	if !strings.HasPrefix(loc, "s3://") {
		return Location{Prefix: loc}, nil
	}
	trimmed := strings.TrimPrefix(loc, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		return Location{}, fmt.Errorf("objectstore: missing bucket in %q", loc)
	}
	l := Location{Bucket: parts[0]}
	if len(parts) == 2 {
		l.Prefix = strings.Trim(parts[1], "/")
	}
	return l, nil
}

// Join returns the object key of name inside the location's prefix. Local
// locations are served by a store rooted at the directory, so only the name
// is returned.
func (l Location) Join(name string) string {
	if !l.IsS3() || l.Prefix == "" {
		return name
	}
	return l.Prefix + "/" + name
}

// KeyPrefix returns the key prefix to list objects of the location.
func (l Location) KeyPrefix() string {
	if !l.IsS3() || l.Prefix == "" {
		return ""
	}
	return l.Prefix + "/"
}
