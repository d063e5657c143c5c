package pattern

import (
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/cbegin/stepseq-go/internal/voice"
)

// Decode parses a pattern document: a YAML (or JSON) mapping from track id to
// a sequence of exactly NumSteps booleans. Tracks are validated
// independently; the valid ones are returned alongside a joined error
// describing the rest. A document that is not a mapping at all yields a nil
// map.
func Decode(data []byte) (map[voice.Track]Steps, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make(map[voice.Track]Steps, len(raw))
	var errs []error
	for _, name := range names {
		tr, err := voice.ParseTrack(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		node := raw[name]
		steps, err := decodeSteps(&node)
		if err != nil {
			errs = append(errs, fmt.Errorf("track %s: %w", tr, err))
			continue
		}
		out[tr] = steps
	}
	return out, errors.Join(errs...)
}

func decodeSteps(n *yaml.Node) (Steps, error) {
	var s Steps
	if n.Kind != yaml.SequenceNode {
		return s, fmt.Errorf("%w: line %d: want a sequence of %d booleans", ErrInvalidPattern, n.Line, NumSteps)
	}
	if len(n.Content) != NumSteps {
		return s, fmt.Errorf("%w: line %d: %d steps, want %d", ErrInvalidPattern, n.Line, len(n.Content), NumSteps)
	}
	for i, c := range n.Content {
		if c.Kind != yaml.ScalarNode || c.ShortTag() != "!!bool" {
			return s, fmt.Errorf("%w: line %d: step %d is %q, want a boolean", ErrInvalidPattern, c.Line, i, c.Value)
		}
		if err := c.Decode(&s[i]); err != nil {
			return s, fmt.Errorf("%w: step %d: %v", ErrInvalidPattern, i, err)
		}
	}
	return s, nil
}

// Encode writes steps in the flow style Decode reads back.
func Encode(p map[voice.Track]Steps) ([]byte, error) {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	for _, tr := range voice.Tracks {
		steps, ok := p[tr]
		if !ok {
			continue
		}
		seq := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
		for _, on := range steps {
			v := "false"
			if on {
				v = "true"
			}
			seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: v})
		}
		doc.Content = append(doc.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: tr.String()}, seq)
	}
	return yaml.Marshal(doc)
}
