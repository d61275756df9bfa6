package llm

import "context"

// Func adapts a function to the Classifier interface.
type Func func(ctx context.Context, titles []string) ([]string, error)

func (f Func) Classify(ctx context.Context, titles []string) ([]string, error) {
	return f(ctx, titles)
}

// Static returns a Classifier that accepts exactly the given titles when they
// appear in a batch, the way a well-behaved model echoes its input.
func Static(matches ...string) Func {
	accept := make(map[string]bool, len(matches))
	for _, m := range matches {
		accept[m] = true
	}
	return func(ctx context.Context, titles []string) ([]string, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var out []string
		for _, t := range titles {
			if accept[t] {
				out = append(out, t)
			}
		}
		return out, nil
	}
}
