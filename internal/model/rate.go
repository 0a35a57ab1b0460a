package model

import "time"

// RateCounterID is the id of the singleton rate counter document
const RateCounterID = "external_calls"

// RateCounter counts external lookups made today across all jobs
type RateCounter struct {
	ID        string    `bson:"_id" json:"id"`
	UseCount  int64     `bson:"use_count" json:"useCount"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}
