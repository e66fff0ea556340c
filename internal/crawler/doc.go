// Package crawler holds the types, interfaces and page helpers shared by the
// discovery engine, the fetchers, the extraction strategies and the stores.
package crawler
