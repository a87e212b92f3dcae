package validator

import (
	"fmt"
	"math/rand"
)

// Synthetic query generation. Templates crossed with topics give enough
// variety that miners cannot precompute answers, without needing an LLM in
// the hot path.

var queryTemplates = []string{
	"latest discussion about %s",
	"most shared posts on %s this week",
	"what are people saying about %s",
	"recent announcements about %s",
	"top threads about %s",
}

var queryTopics = []string{
	"rust async runtimes",
	"go generics",
	"postgres performance tuning",
	"kubernetes upgrades",
	"llm inference costs",
	"zero knowledge proofs",
	"vector databases",
	"webassembly on the server",
	"distributed tracing",
	"open source licensing",
}

func GenerateQuery(rng *rand.Rand) string {
	template := queryTemplates[rng.Intn(len(queryTemplates))]
	topic := queryTopics[rng.Intn(len(queryTopics))]
	return fmt.Sprintf(template, topic)
}
