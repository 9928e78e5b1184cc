package memory

import (
	"context"
	"testing"

	"github.com/jmcleod/showcase/storage"
	"github.com/jmcleod/showcase/storage/storagetest"
)

func TestMemoryRepository(t *testing.T) {
	storagetest.RunRepositoryTests(t, NewRepository())
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	env := &storage.Envelope{Ver: 1, Scheme: storage.SchemePlainJSON, Payload: []byte(`{"a":1}`)}

	if err := repo.Put(ctx, "t", "id", env); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	env.Payload[0] = 'X'

	got, err := repo.Get(ctx, "t", "id")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Payload[0] != '{' {
		t.Error("stored record should not alias the caller's envelope")
	}
	got.Payload[0] = 'Y'

	again, _ := repo.Get(ctx, "t", "id")
	if again.Payload[0] != '{' {
		t.Error("returned record should not alias stored data")
	}
}
