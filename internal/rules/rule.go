package rules

import (
	"fmt"
	"strings"

	"validator-backend/pkg/protocol"
)

// Rule is a compiled compliance predicate evaluated against a miner
// response.
type Rule interface {
	Matches(response protocol.MinerResponse) bool
}

type andRule struct {
	rules []Rule
}

func (r *andRule) Matches(response protocol.MinerResponse) bool {
	for _, rule := range r.rules {
		if !rule.Matches(response) {
			return false
		}
	}
	return true
}

type orRule struct {
	rules []Rule
}

func (r *orRule) Matches(response protocol.MinerResponse) bool {
	for _, rule := range r.rules {
		if rule.Matches(response) {
			return true
		}
	}
	return false
}

type notRule struct {
	rule Rule
}

func (r *notRule) Matches(response protocol.MinerResponse) bool {
	return !r.rule.Matches(response)
}

// countRule checks the number of values a field yields, exclusive on both
// bounds.
type countRule struct {
	field string
	min   int
	max   int
}

func (r *countRule) Matches(response protocol.MinerResponse) bool {
	n := len(fieldValues(response, r.field))
	return r.min < n && n < r.max
}

type containsRule struct {
	field  string
	substr string
}

func (r *containsRule) Matches(response protocol.MinerResponse) bool {
	for _, value := range fieldValues(response, r.field) {
		if strings.Contains(value, r.substr) {
			return true
		}
	}
	return false
}

type equalsRule struct {
	field string
	value string
}

func (r *equalsRule) Matches(response protocol.MinerResponse) bool {
	for _, value := range fieldValues(response, r.field) {
		if value == r.value {
			return true
		}
	}
	return false
}

// fieldValues resolves a rule field name to the values it covers in a
// response. Record-level fields yield one value per record.
func fieldValues(response protocol.MinerResponse, field string) []string {
	switch field {
	case "records":
		values := make([]string, len(response.Records))
		for i, record := range response.Records {
			values[i] = record.Uri
		}
		return values
	case "facts":
		return response.Facts
	case "summary":
		if response.Summary == "" {
			return nil
		}
		return []string{response.Summary}
	case "uri", "author", "content":
		values := make([]string, 0, len(response.Records))
		for _, record := range response.Records {
			switch field {
			case "uri":
				values = append(values, record.Uri)
			case "author":
				values = append(values, record.Author)
			case "content":
				values = append(values, record.Content)
			}
		}
		return values
	default:
		return nil
	}
}

func validField(field string) error {
	switch field {
	case "records", "facts", "summary", "uri", "author", "content":
		return nil
	}
	return fmt.Errorf("unknown rule field '%s'", field)
}
