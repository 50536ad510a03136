package fleet

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// envelope is the fleet API's pagination envelope.
type envelope[T any] struct {
	Count    int    `json:"count"`
	Next     string `json:"next"`
	Previous string `json:"previous"`
	Results  []T    `json:"results"`
}

// Pages is a lazy, restartable, finite sequence over a paginated
// listing. Nothing is fetched until the first Next call; continuation
// cursors are walked transparently. Re-issuing the listing call
// returns a fresh sequence starting from the first page.
type Pages[T any] struct {
	c        *Client
	tenantID string
	path     string
	query    url.Values

	page int
	buf  []T
	done bool
}

func newPages[T any](c *Client, tenantID, path string, query url.Values) *Pages[T] {
	if query == nil {
		query = make(url.Values)
	}
	return &Pages[T]{c: c, tenantID: tenantID, path: path, query: query}
}

// Next returns the next item in the sequence. The second return is
// false once the sequence is exhausted.
func (p *Pages[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	for len(p.buf) == 0 {
		if p.done {
			return zero, false, nil
		}
		if err := p.fetch(ctx); err != nil {
			return zero, false, err
		}
	}
	v := p.buf[0]
	p.buf = p.buf[1:]
	return v, true, nil
}

// Collect drains the remainder of the sequence into a slice.
func (p *Pages[T]) Collect(ctx context.Context) ([]T, error) {
	var r []T
	for {
		v, ok, err := p.Next(ctx)
		if err != nil {
			return r, err
		}
		if !ok {
			return r, nil
		}
		r = append(r, v)
	}
}

func (p *Pages[T]) fetch(ctx context.Context) error {
	p.page++
	query := make(url.Values, len(p.query)+1)
	for k, v := range p.query {
		query[k] = v
	}
	query.Set("page", strconv.Itoa(p.page))

	var env envelope[T]
	if err := p.c.get(ctx, p.tenantID, p.path, query, &env); err != nil {
		return fmt.Errorf("page %d of %s: %w", p.page, p.path, err)
	}

	p.buf = env.Results
	if env.Next == "" {
		p.done = true
	}
	return nil
}
