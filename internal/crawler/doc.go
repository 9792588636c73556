// Package crawler holds the domain model of the repository indicator crawler:
// repository summaries and results, indicator and task definitions, the crawl
// settings snapshot, and the interfaces implemented by host adapters, parsers,
// tasks and output sinks.
package crawler
