// Package notify publishes new-arrival events to Kafka.
//
// Only genuinely new messages (arrivals after the baseline) are published.
// Events are keyed by ticker so a company's events stay in one partition.
package notify
