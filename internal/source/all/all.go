// Package all links every source backend into the binary.
package all

import (
	_ "spreadtap/internal/source/azure"
	_ "spreadtap/internal/source/gcs"
	_ "spreadtap/internal/source/httpsrc"
	_ "spreadtap/internal/source/local"
	_ "spreadtap/internal/source/minio"
	_ "spreadtap/internal/source/s3"
)
