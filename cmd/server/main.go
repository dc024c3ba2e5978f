package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"e2e_messenger/internal/repository/keys"
	"e2e_messenger/internal/repository/user"
	redisSvc "e2e_messenger/internal/service/redis"
	"e2e_messenger/internal/service/server"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	mongoDBClient, err := initMongo()
	if err != nil {
		panic(err)
	}

	db := mongoDBClient.Database("mydb")

	rdb := redis.NewClient(&redis.Options{
		Addr:     envOr("REDIS_ADDR", "localhost:6379"),
		Password: "", // no password by default
		DB:       0,  // use default DB
	})

	redis := redisSvc.NewRedis(rdb)

	userRepo := user.NewUserRepo(db)
	directory := keys.NewMongoDirectory(db)

	c := server.NewHttpServer(envOr("LISTEN_ADDR", ":9090"), userRepo, directory, redis)
	go c.Run()

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	<-done
}

func initMongo() (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(envOr("MONGO_URI", "mongodb://localhost:27017")))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
