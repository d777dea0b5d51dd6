package flowrepo_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-login-proxy/authflow/flowrepo"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRepo(t *testing.T) {
	t.Run("upsert and get", func(t *testing.T) {
		repo := flowrepo.NewInMemoryRepo(0)
		err := repo.Upsert("state-1", &flowrepo.PendingAuth{CodeVerifier: "verifier-1"})
		require.NoError(t, err)

		pending, err := repo.Get("state-1")
		require.NoError(t, err)
		require.Equal(t, "verifier-1", pending.CodeVerifier)
		require.False(t, pending.CreatedAt.IsZero())
	})

	t.Run("unknown state", func(t *testing.T) {
		repo := flowrepo.NewInMemoryRepo(0)
		_, err := repo.Get("never-stored")
		require.ErrorIs(t, err, flowrepo.ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		repo := flowrepo.NewInMemoryRepo(0)
		require.NoError(t, repo.Upsert("state-1", &flowrepo.PendingAuth{CodeVerifier: "verifier-1"}))
		require.NoError(t, repo.Delete("state-1"))

		_, err := repo.Get("state-1")
		require.ErrorIs(t, err, flowrepo.ErrNotFound)
	})

	t.Run("expired entries are unknown", func(t *testing.T) {
		repo := flowrepo.NewInMemoryRepo(10 * time.Minute)
		err := repo.Upsert("old-state", &flowrepo.PendingAuth{
			CodeVerifier: "verifier-1",
			CreatedAt:    time.Now().Add(-20 * time.Minute),
		})
		require.NoError(t, err)

		_, err = repo.Get("old-state")
		require.ErrorIs(t, err, flowrepo.ErrNotFound)
	})

	t.Run("empty state rejected", func(t *testing.T) {
		repo := flowrepo.NewInMemoryRepo(0)
		require.Error(t, repo.Upsert("", &flowrepo.PendingAuth{CodeVerifier: "v"}))
		require.Error(t, repo.Upsert("state", nil))

		_, err := repo.Get("")
		require.Error(t, err)
		require.Error(t, repo.Delete(""))
	})

	t.Run("returned copy does not alias the stored entry", func(t *testing.T) {
		repo := flowrepo.NewInMemoryRepo(0)
		require.NoError(t, repo.Upsert("state-1", &flowrepo.PendingAuth{CodeVerifier: "verifier-1"}))

		first, err := repo.Get("state-1")
		require.NoError(t, err)
		first.CodeVerifier = "mutated"

		second, err := repo.Get("state-1")
		require.NoError(t, err)
		require.Equal(t, "verifier-1", second.CodeVerifier)
	})
}
