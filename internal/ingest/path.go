package ingest

import (
	"path"
	"strings"
)

const (
	originalSegment    = "original/"
	transformedSegment = "transformed/"
)

// TransformedPath derives where the reprojected copy of src is written.
// The last "original/" directory segment is swapped for "transformed/";
// without one, "transformed/" is inserted before the file name.
func TransformedPath(src string) string {
	if i := strings.LastIndex(src, "/"+originalSegment); i >= 0 {
		return src[:i+1] + transformedSegment + src[i+1+len(originalSegment):]
	}
	if strings.HasPrefix(src, originalSegment) {
		return transformedSegment + src[len(originalSegment):]
	}
	dir, file := path.Split(src)
	return dir + transformedSegment + file
}
