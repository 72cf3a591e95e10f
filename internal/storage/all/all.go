// Package all links every state backend.
package all

import (
	_ "spreadtap/internal/storage/file"
	_ "spreadtap/internal/storage/mssql"
	_ "spreadtap/internal/storage/postgres"
	_ "spreadtap/internal/storage/sqlite"
)
