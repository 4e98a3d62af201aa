// Command newsrefresher keeps a news corpus fresh.
//
// Architecture overview:
//   - Scheduler: a cron timer fires at 00:00 and 12:00 UTC. Each tick pings the
//     datastore and then runs the refresh orchestrator.
//   - Refresh: the orchestrator clears the corpus, pulls a batch from the news
//     API and, item by item, enriches and saves each article. Concurrent callers
//     share one in-flight cycle.
//   - Enrichment: truncated bodies are recovered by fetching the article page
//     with colly, optionally re-rendering it in headless Chrome, and running the
//     extraction strategy chain over the HTML.
//   - Storage: Postgres or MongoDB with a weighted full-text index, or memory for
//     local runs. Raw pages can be archived to GCS or local disk and cycle
//     reports published to Pub/Sub, NATS or Kafka.
//   - HTTP API: chi routes under /api trigger refreshes, operate the scheduler
//     and list, search and paginate articles. /metrics exposes Prometheus.
//
// Configure via a YAML file (--config) or NEWSREFRESHER_* environment
// variables; NEWS_API_URL is honoured for the upstream endpoint.
package main

import "github.com/JakeFAU/news-refresher/cmd"

func main() {
	cmd.Execute()
}
