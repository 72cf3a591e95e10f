package all

import (
	"testing"

	"github.com/stretchr/testify/require"

	"spreadtap/internal/storage"
)

func TestKindsRegistered(t *testing.T) {
	require.Equal(t, []string{"file", "mssql", "postgres", "sqlite"}, storage.Kinds())
}
