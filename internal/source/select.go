package source

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"
)

// Lister is the part of Store the selector needs.
type Lister interface {
	List(ctx context.Context, prefix string) ([]Object, error)
}

// MatchLister is implemented by stores that pay a request per listed
// object. ListMatching fetches metadata only for keys that match accepts.
type MatchLister interface {
	ListMatching(ctx context.Context, prefix string, match func(key string) bool) ([]Object, error)
}

// Select returns the objects under prefix whose key matches pattern and
// whose LastModified is strictly after watermark.
//
// The pattern is searched, not anchored: "orders" matches "2020/orders.csv".
// The result is ordered by LastModified ascending with ties broken by key,
// which is the order the sync loop advances the watermark in. No matches is
// an empty slice, not an error.
func Select(ctx context.Context, l Lister, prefix, pattern string, watermark time.Time) ([]Object, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("source: compile pattern %q: %w", pattern, err)
	}

	var objs []Object
	if ml, ok := l.(MatchLister); ok {
		objs, err = ml.ListMatching(ctx, prefix, re.MatchString)
	} else {
		objs, err = l.List(ctx, prefix)
	}
	if err != nil {
		return nil, fmt.Errorf("source: list: %w", err)
	}

	out := make([]Object, 0, len(objs))
	for _, o := range objs {
		if !re.MatchString(o.Key) {
			continue
		}
		if !o.LastModified.After(watermark) {
			continue
		}
		out = append(out, o)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastModified.Equal(out[j].LastModified) {
			return out[i].LastModified.Before(out[j].LastModified)
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}
