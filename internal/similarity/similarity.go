// Package similarity ranks labelled vectors against a query by cosine similarity.
package similarity

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/dvloznov/grocery-carbon/internal/domain"
)

// Labeled is one candidate in a catalogue.
type Labeled struct {
	Label  string
	Vector domain.Vector
}

// Match is a label with its similarity to the query.
type Match struct {
	Label string
	Score float64
}

// Cosine returns 1 - cosine distance between a and b. A zero vector scores 0.
func Cosine(a, b domain.Vector) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, fmt.Errorf("Cosine: empty vector: %w", domain.ErrInvalidInput)
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("Cosine: dimension %d != %d: %w", len(a), len(b), domain.ErrInvalidInput)
	}
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return floats.Dot(a, b) / (na * nb), nil
}

// BestMatch returns the most similar candidate. The first candidate in
// catalogue order wins ties.
func BestMatch(query domain.Vector, catalogue []Labeled) (Match, error) {
	scores, err := Scores(query, catalogue)
	if err != nil {
		return Match{}, err
	}

	best := scores[0]
	for _, m := range scores[1:] {
		if m.Score > best.Score {
			best = m
		}
	}
	return best, nil
}

// Scores returns the similarity of query to every candidate, in catalogue order.
func Scores(query domain.Vector, catalogue []Labeled) ([]Match, error) {
	if len(catalogue) == 0 {
		return nil, fmt.Errorf("Scores: empty catalogue: %w", domain.ErrInvalidInput)
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("Scores: empty query: %w", domain.ErrInvalidInput)
	}

	out := make([]Match, 0, len(catalogue))
	for _, c := range catalogue {
		if len(c.Vector) != len(query) {
			return nil, fmt.Errorf("Scores: %q has dimension %d, query has %d: %w",
				c.Label, len(c.Vector), len(query), domain.ErrInvalidInput)
		}
		s, err := Cosine(query, c.Vector)
		if err != nil {
			return nil, fmt.Errorf("Scores: %q: %w", c.Label, err)
		}
		out = append(out, Match{Label: c.Label, Score: s})
	}
	return out, nil
}

// ScoreMap keys Scores by label. Duplicate labels keep the first score.
func ScoreMap(query domain.Vector, catalogue []Labeled) (map[string]float64, error) {
	scores, err := Scores(query, catalogue)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(scores))
	for _, m := range scores {
		if _, ok := out[m.Label]; !ok {
			out[m.Label] = m.Score
		}
	}
	return out, nil
}
