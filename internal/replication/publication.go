package replication

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/strahe/waltap/pkg/log"
)

// PublicationParams mirrors the handful of CREATE PUBLICATION options
// this tool needs: either every table or an explicit list.
type PublicationParams struct {
	Name      string
	Tables    []string
	AllTables bool
}

// EnsurePublication creates the publication if it does not already
// exist. PostgreSQL has no "CREATE PUBLICATION IF NOT EXISTS", so
// existence is checked first.
func EnsurePublication(ctx context.Context, conn *pgconn.PgConn, params PublicationParams) error {
	exists, err := publicationExists(ctx, conn, params.Name)
	if err != nil {
		return fmt.Errorf("replication: check publication %s: %w", params.Name, err)
	}
	if exists {
		return nil
	}
	return CreatePublication(ctx, conn, params)
}

func publicationExists(ctx context.Context, conn *pgconn.PgConn, name string) (bool, error) {
	query := fmt.Sprintf("SELECT 1 FROM pg_publication WHERE pubname = %s", quoteLiteral(name))
	result, err := conn.Exec(ctx, query).ReadAll()
	if err != nil {
		return false, err
	}
	for _, r := range result {
		if len(r.Rows) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func CreatePublication(ctx context.Context, conn *pgconn.PgConn, params PublicationParams) error {
	query, err := buildCreatePublicationQuery(params)
	if err != nil {
		return err
	}

	log.Debug().Str("query", query).Msg("creating publication")
	if _, err := conn.Exec(ctx, query).ReadAll(); err != nil {
		return fmt.Errorf("replication: create publication %s: %w", params.Name, err)
	}
	return nil
}

// buildCreatePublicationQuery is the pure SQL-building half of
// CreatePublication, split out so it can be tested without a live
// connection.
func buildCreatePublicationQuery(params PublicationParams) (string, error) {
	if params.Name == "" {
		return "", fmt.Errorf("replication: publication name cannot be empty")
	}

	query := fmt.Sprintf("CREATE PUBLICATION %s ", pq.QuoteIdentifier(params.Name))
	switch {
	case params.AllTables:
		query += "FOR ALL TABLES"
	case len(params.Tables) > 0:
		names := make([]string, len(params.Tables))
		for i, t := range params.Tables {
			names[i] = pq.QuoteIdentifier(t)
		}
		query += "FOR TABLE " + strings.Join(names, ", ")
	}
	return query, nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
