package knowledge

import (
	"context"
	"database/sql"
	"errors"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("PostgresObjectStore", func() {
	var (
		store *PostgresObjectStore
		mock  sqlmock.Sqlmock
		ctx   context.Context
	)

	BeforeEach(func() {
		mockDB, m, err := sqlmock.New()
		Expect(err).NotTo(HaveOccurred())
		mock = m
		ctx = context.Background()
		store = NewPostgresObjectStore(sqlx.NewDb(mockDB, "postgres"))
	})

	Describe("Put", func() {
		It("issues an upsert against knowledge_objects", func() {
			mock.ExpectExec(`INSERT INTO knowledge_objects`).
				WithArgs("patterns/p1.json", []byte(`{"id":"p1"}`)).
				WillReturnResult(sqlmock.NewResult(0, 1))

			Expect(store.Put(ctx, "patterns/p1.json", []byte(`{"id":"p1"}`))).To(Succeed())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("wraps a driver error", func() {
			mock.ExpectExec(`INSERT INTO knowledge_objects`).
				WillReturnError(errors.New("connection refused"))

			err := store.Put(ctx, "patterns/p1.json", []byte(`{}`))
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("failed to upsert knowledge object"))
		})
	})

	Describe("Get", func() {
		It("returns the stored value", func() {
			rows := sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"id":"p1"}`))
			mock.ExpectQuery(`SELECT value FROM knowledge_objects WHERE key = \$1`).
				WithArgs("patterns/p1.json").
				WillReturnRows(rows)

			value, err := store.Get(ctx, "patterns/p1.json")
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal([]byte(`{"id":"p1"}`)))
		})

		It("returns (nil, nil) when the key is absent", func() {
			mock.ExpectQuery(`SELECT value FROM knowledge_objects WHERE key = \$1`).
				WithArgs("patterns/missing.json").
				WillReturnError(sql.ErrNoRows)

			value, err := store.Get(ctx, "patterns/missing.json")
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(BeNil())
		})
	})

	Describe("List", func() {
		It("returns every key with the prefix", func() {
			rows := sqlmock.NewRows([]string{"key"}).
				AddRow("patterns/p1.json").
				AddRow("patterns/p2.json")
			mock.ExpectQuery(`SELECT key FROM knowledge_objects WHERE key LIKE \$1`).
				WithArgs("patterns/%").
				WillReturnRows(rows)

			keys, err := store.List(ctx, "patterns/")
			Expect(err).NotTo(HaveOccurred())
			Expect(keys).To(Equal([]string{"patterns/p1.json", "patterns/p2.json"}))
		})
	})
})
