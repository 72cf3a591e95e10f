package tap

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"spreadtap/internal/config"
	"spreadtap/internal/probe"
)

// CrawlStartDate is the start_date given to crawled tables.
const CrawlStartDate = "1970-01-01T00:00:00Z"

// ExpandCrawl replaces every crawl_config entry with one table per
// directory found under its path and returns the expanded config. Plain
// entries are kept after the crawled ones. The Tap uses the expanded config
// from then on.
func (t *Tap) ExpandCrawl(ctx context.Context) (*config.Config, error) {
	out := &config.Config{}
	var plain []config.TableSpec
	taken := make(map[string]bool)
	for _, spec := range t.cfg.Tables {
		if !spec.CrawlConfig {
			plain = append(plain, spec)
			taken[spec.Name] = true
		}
	}

	for _, spec := range t.cfg.Tables {
		if !spec.CrawlConfig {
			continue
		}
		tables, err := t.crawl(ctx, spec, taken)
		if err != nil {
			return nil, fmt.Errorf("tap: crawl %s: %w", spec.Path, err)
		}
		out.Tables = append(out.Tables, tables...)
	}
	out.Tables = append(out.Tables, plain...)

	t.cfg = out
	return out, nil
}

// crawl lists everything under spec.Path and builds a table per directory.
// Options set on the crawl block (sampling, encoding, invalid_format_action)
// carry over to every generated table.
func (t *Tap) crawl(ctx context.Context, spec config.TableSpec, taken map[string]bool) ([]config.TableSpec, error) {
	store, err := t.store(ctx, spec.Path)
	if err != nil {
		return nil, err
	}
	objs, err := store.List(ctx, spec.SearchPrefix)
	if err != nil {
		return nil, err
	}

	dirs := make(map[string]int)
	for _, o := range objs {
		dirs[path.Dir(o.Key)]++
	}
	keys := make([]string, 0, len(dirs))
	for d := range dirs {
		keys = append(keys, d)
	}
	sort.Strings(keys)

	var out []config.TableSpec
	for _, dir := range keys {
		ts := spec
		ts.CrawlConfig = false
		ts.Name = uniqueName(crawlTableName(spec.Path, dir), taken)
		ts.Pattern = crawlPattern(dir)
		ts.SearchPrefix = ""
		if dir != "." {
			ts.SearchPrefix = dir + "/"
		}
		ts.Format = config.FormatDetect
		ts.StartDate = CrawlStartDate
		ts.KeyProperties = []string{}
		out = append(out, ts)

		t.log.Info("crawled table",
			zap.String("root", spec.Path), zap.String("dir", dir),
			zap.String("table", ts.Name), zap.Int("files", dirs[dir]))
	}
	return out, nil
}

// crawlTableName names a directory's table; files directly under the root
// take the root's last path segment.
func crawlTableName(root, dir string) string {
	if dir == "." {
		root = strings.TrimRight(root, "/")
		if i := strings.LastIndexAny(root, "/:"); i >= 0 {
			root = root[i+1:]
		}
		dir = root
	}
	if n := probe.NormalizeName(dir); n != "" {
		return n
	}
	return "table"
}

// crawlPattern matches the files directly inside dir and nothing deeper.
func crawlPattern(dir string) string {
	if dir == "." {
		return `^[^/]+$`
	}
	return "^" + regexp.QuoteMeta(dir+"/") + `[^/]+$`
}

func uniqueName(name string, taken map[string]bool) string {
	n := name
	for i := 2; taken[n]; i++ {
		n = name + "_" + strconv.Itoa(i)
	}
	taken[n] = true
	return n
}
