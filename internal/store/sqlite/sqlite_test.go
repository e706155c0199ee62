package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/CrusoO/Rag-knowledge-system/internal/store"
	"github.com/CrusoO/Rag-knowledge-system/internal/store/storetest"
)

func TestSQLiteStoreCompliance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := New(":memory:")
		if err != nil {
			t.Fatalf("open sqlite store: %v", err)
		}
		return s
	})
}

// The file-backed driver allows real connection concurrency, so running the
// suite against it exercises the busy_timeout handling that the single
// connection :memory: store cannot.
func TestSQLiteStoreComplianceFileBacked(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := New(filepath.Join(t.TempDir(), "cruso.db"))
		if err != nil {
			t.Fatalf("open sqlite store: %v", err)
		}
		return s
	})
}
