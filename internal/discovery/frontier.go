package discovery

type queued struct {
	url   string
	depth int
}

// frontier is the FIFO queue plus the seen and visited sets of one traversal.
// It is owned by the coordinating goroutine and is not safe for concurrent use.
type frontier struct {
	queue   []queued
	seen    map[string]struct{}
	visited map[string]struct{}
}

func newFrontier(root string) *frontier {
	f := &frontier{
		seen:    make(map[string]struct{}),
		visited: make(map[string]struct{}),
	}
	f.push(root, 0)
	return f
}

// push enqueues url unless it was already queued or visited.
func (f *frontier) push(url string, depth int) bool {
	if _, ok := f.seen[url]; ok {
		return false
	}
	f.seen[url] = struct{}{}
	f.queue = append(f.queue, queued{url: url, depth: depth})
	return true
}

// next pops the oldest unvisited entry and marks it visited.
func (f *frontier) next() (queued, bool) {
	for len(f.queue) > 0 {
		item := f.queue[0]
		f.queue[0] = queued{}
		f.queue = f.queue[1:]
		if _, done := f.visited[item.url]; done {
			continue
		}
		f.visited[item.url] = struct{}{}
		return item, true
	}
	return queued{}, false
}
