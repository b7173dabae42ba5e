package sink

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strahe/waltap/internal/pgwire"
)

func TestSubjectDerivationIsTotalAndDeterministic(t *testing.T) {
	require.Equal(t, "cdc.public.users.insert", Subject("cdc", "public", "users", "insert"))
	require.Equal(t, Subject("cdc", "public", "users", "update"), Subject("cdc", "public", "users", "update"))
}

func TestBusSinkSubjectsForEachChangeKind(t *testing.T) {
	cache := pgwire.NewCache()
	cache.Put(pgwire.RelationInfo{RelationID: 1, Schema: "public", Table: "users"})
	s := &BusSink{subjectPrefix: "cdc", cache: cache}

	cases := []struct {
		name string
		in   pgwire.Change
		want []string
	}{
		{"begin", pgwire.Begin{}, []string{"cdc.transactions.begin.event"}},
		{"commit", pgwire.Commit{}, []string{"cdc.transactions.commit.event"}},
		{"insert", pgwire.Insert{RelationID: 1}, []string{"cdc.public.users.insert"}},
		{"update", pgwire.Update{RelationID: 1}, []string{"cdc.public.users.update"}},
		{"delete", pgwire.Delete{RelationID: 1}, []string{"cdc.public.users.delete"}},
		{"truncate", pgwire.Truncate{RelationIDs: []uint32{1}}, []string{"cdc.public.users.truncate"}},
		{"type", pgwire.Type{}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.subjects(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestBusSinkSubjectsUnknownRelationFails(t *testing.T) {
	s := &BusSink{subjectPrefix: "cdc", cache: pgwire.NewCache()}
	_, err := s.subjects(pgwire.Insert{RelationID: 99})
	require.ErrorIs(t, err, pgwire.ErrUnknownRelation)
}
