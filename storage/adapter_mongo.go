package storage

import (
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

// MongoAdapter wraps a connected *mongo.Database. There is no dialect
// to sniff on this side; collections and the counter sequences live in
// whatever database the caller hands over.
type MongoAdapter struct {
	DB *mongo.Database
}

func (a *MongoAdapter) Dialect() string { return "mongodb" }

func isMongoDB(conn any) bool {
	_, ok := conn.(*mongo.Database)
	return ok
}

func newMongoAdapter(conn any) (Adapter, error) {
	db, ok := conn.(*mongo.Database)
	if !ok {
		return nil, fmt.Errorf("mongodb adapter expects *mongo.Database, got %T", conn)
	}
	return &MongoAdapter{DB: db}, nil
}
