package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/averix/toolgate/internal/storage"
	"github.com/averix/toolgate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthRepositoryFindByEmail(t *testing.T) {
	mdb := testutil.NewMockDB(t)
	defer mdb.Close()

	repo := NewUserRepository(&storage.Database{DB: mdb.DB})
	id := testutil.NewTestUUID("admin")

	t.Run("found", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "name", "role"}).
			AddRow(id.String(), "admin@example.com", "hash", "Admin", "admin")

		mdb.Mock.ExpectQuery(`SELECT \* FROM "users" WHERE email = \$1`).
			WithArgs("admin@example.com", 1).
			WillReturnRows(rows)

		user, err := repo.FindByEmail(context.Background(), "admin@example.com")
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, "admin@example.com", user.Email)
		assert.Equal(t, id, user.ID)
	})

	t.Run("not found returns nil without error", func(t *testing.T) {
		mdb.Mock.ExpectQuery(`SELECT \* FROM "users" WHERE email = \$1`).
			WithArgs("nobody@example.com", 1).
			WillReturnRows(sqlmock.NewRows([]string{"id", "email"}))

		user, err := repo.FindByEmail(context.Background(), "nobody@example.com")
		require.NoError(t, err)
		assert.Nil(t, user)
	})

	mdb.ExpectationsWereMet(t)
}

func TestAuthRepositoryCount(t *testing.T) {
	mdb := testutil.NewMockDB(t)
	defer mdb.Close()

	repo := NewUserRepository(&storage.Database{DB: mdb.DB})

	mdb.Mock.ExpectQuery(`SELECT count\(\*\) FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	mdb.ExpectationsWereMet(t)
}

func TestAuthRepositoryCreateAndFind(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := testutil.FakeUser(testutil.NewFaker())
	require.NoError(t, repo.Create(ctx, user))

	found, err := repo.FindByEmail(ctx, user.Email)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, user.ID, found.ID)

	byID, err := repo.FindById(ctx, user.ID.String())
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, user.Email, byID.Email)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
