package neo4j

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kmorozov/ragengine/internal/core/domain"
)

// Store traverses the entity graph. Entities are matched against terms from
// the query text; each returned entity carries the ids of the chunks that
// mention it.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
}

type Options struct {
	URI      string
	Username string
	Password string
	Database string
}

func New(ctx context.Context, options Options) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(options.URI, neo4j.BasicAuth(options.Username, options.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return &Store{driver: driver, database: options.Database}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

const relatedQuery = `
UNWIND $terms AS term
MATCH (e:Entity)
WHERE toLower(e.name) CONTAINS term
WITH DISTINCT e
MATCH (e)-[:MENTIONED_IN]->(c:Chunk)
WITH e, collect(DISTINCT c.chunk_id) AS chunkIDs, count(DISTINCT c) AS support
RETURN e.name AS name, e.kind AS kind, chunkIDs
ORDER BY support DESC, name ASC
LIMIT $limit`

func (s *Store) Related(ctx context.Context, queryText string, limit int) ([]domain.RelatedEntity, error) {
	terms := queryTerms(queryText)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.database,
	})
	defer func() {
		_ = session.Close(ctx)
	}()

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, relatedQuery, map[string]any{
			"terms": terms,
			"limit": limit,
		})
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("related entities query: %w", err)
	}

	rows, ok := records.([]*neo4j.Record)
	if !ok {
		return nil, fmt.Errorf("unexpected neo4j result type %T", records)
	}

	out := make([]domain.RelatedEntity, 0, len(rows))
	for _, record := range rows {
		entity := domain.RelatedEntity{
			Name: stringValue(record, "name"),
			Kind: stringValue(record, "kind"),
		}
		if raw, ok := record.Get("chunkIDs"); ok {
			if ids, ok := raw.([]any); ok {
				entity.ChunkIDs = make([]string, 0, len(ids))
				for _, id := range ids {
					if s, ok := id.(string); ok {
						entity.ChunkIDs = append(entity.ChunkIDs, s)
					}
				}
			}
		}
		out = append(out, entity)
	}
	return out, nil
}

func stringValue(record *neo4j.Record, key string) string {
	raw, ok := record.Get(key)
	if !ok {
		return ""
	}
	s, _ := raw.(string)
	return s
}

// queryTerms lowercases the query and keeps distinct alphanumeric terms of
// three or more runes, preserving first-seen order.
func queryTerms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 3 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}
