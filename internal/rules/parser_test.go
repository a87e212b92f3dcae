package rules

import (
	"testing"

	"validator-backend/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func response(n int) protocol.MinerResponse {
	records := make([]protocol.ScrapedRecord, n)
	for i := range records {
		records[i] = protocol.ScrapedRecord{
			Uri:     "https://example.com/post/1",
			Author:  "alice",
			Content: "a post about golang concurrency",
		}
	}
	return protocol.MinerResponse{Records: records, Summary: "posts about golang"}
}

func TestCountRules(t *testing.T) {
	tests := []struct {
		rule    string
		n       int
		matches bool
	}{
		{`COUNT records > 10`, 11, true},
		{`COUNT records > 10`, 10, false},
		{`COUNT records < 5`, 4, true},
		{`COUNT records < 5`, 5, false},
		{`COUNT records = 3`, 3, true},
		{`COUNT records = 3`, 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			rule, err := Parse(tt.rule)
			require.NoError(t, err)
			assert.Equal(t, tt.matches, rule.Matches(response(tt.n)))
		})
	}
}

func TestContainsRule(t *testing.T) {
	rule, err := Parse(`content CONTAINS "golang"`)
	require.NoError(t, err)

	assert.True(t, rule.Matches(response(3)))
	assert.False(t, rule.Matches(protocol.MinerResponse{
		Records: []protocol.ScrapedRecord{{Content: "a post about rust"}},
	}))
}

func TestBooleanComposition(t *testing.T) {
	rule, err := Parse(`COUNT records > 2 AND content CONTAINS "golang" AND NOT author = "bot"`)
	require.NoError(t, err)

	assert.True(t, rule.Matches(response(3)))
	assert.False(t, rule.Matches(response(2)))

	bot := response(3)
	for i := range bot.Records {
		bot.Records[i].Author = "bot"
	}
	assert.False(t, rule.Matches(bot))
}

func TestParenthesizedOr(t *testing.T) {
	rule, err := Parse(`(COUNT records > 10 OR summary CONTAINS "golang") AND COUNT facts < 5`)
	require.NoError(t, err)

	assert.True(t, rule.Matches(response(3)))
}

func TestParseErrors(t *testing.T) {
	for _, bad := range []string{
		`COUNT records CONTAINS "x"`,
		`content > 5`,
		`unknownfield CONTAINS "x"`,
		`COUNT records >`,
	} {
		t.Run(bad, func(t *testing.T) {
			_, err := Parse(bad)
			assert.Error(t, err)
		})
	}
}
