package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/redis/go-redis/v9"
)

func TestPostgresKV(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	kv := NewPostgresKV(mock)
	ctx := context.Background()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS kv_store`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	if err := kv.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	mock.ExpectQuery(`SELECT value FROM kv_store WHERE key = \$1`).
		WithArgs(TripsKey).
		WillReturnError(pgx.ErrNoRows)
	if _, found, err := kv.Get(ctx, TripsKey); err != nil || found {
		t.Fatalf("missing key: found=%v err=%v", found, err)
	}

	mock.ExpectExec(`INSERT INTO kv_store`).
		WithArgs(TripsKey, `[]`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if err := kv.Set(ctx, TripsKey, `[]`); err != nil {
		t.Fatalf("set: %v", err)
	}

	mock.ExpectQuery(`SELECT value FROM kv_store WHERE key = \$1`).
		WithArgs(TripsKey).
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow(`[]`))
	v, found, err := kv.Get(ctx, TripsKey)
	if err != nil || !found || v != `[]` {
		t.Fatalf("get: v=%q found=%v err=%v", v, found, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresKVErrors(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	kv := NewPostgresKV(mock)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT value FROM kv_store`).
		WithArgs(TripsKey).
		WillReturnError(errUnavailable)
	if _, _, err := kv.Get(ctx, TripsKey); !errors.Is(err, errUnavailable) {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	mock.ExpectExec(`INSERT INTO kv_store`).
		WithArgs(TripsKey, "x").
		WillReturnError(errUnavailable)
	if err := kv.Set(ctx, TripsKey, "x"); !errors.Is(err, errUnavailable) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestRedisKVBacksTripStore(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	ctx := context.Background()
	kv := NewRedisKV(client, "tracker:")
	if _, found, err := kv.Get(ctx, TripsKey); err != nil || found {
		t.Fatalf("missing key: found=%v err=%v", found, err)
	}

	s := NewTripStore(kv)
	created, err := s.CreateTrip(ctx)
	if err != nil {
		t.Fatalf("create trip: %v", err)
	}
	if !srv.Exists("tracker:" + TripsKey) {
		t.Fatalf("expected prefixed key in redis")
	}
	all, err := s.GetAll(ctx)
	if err != nil || len(all) != 1 || all[0].ID != created.ID {
		t.Fatalf("get all: %+v err=%v", all, err)
	}
}

func TestConnectRedisEmptyAddr(t *testing.T) {
	if ConnectRedis("", "", 0) != nil {
		t.Fatalf("expected nil client when addr empty")
	}
}

type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]dynamodbtypes.AttributeValue
	err   error
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := in.Key["key"].(*dynamodbtypes.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[*in.TableName+"/"+key]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := in.Item["key"].(*dynamodbtypes.AttributeValueMemberS).Value
	f.items[*in.TableName+"/"+key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func TestDynamoKV(t *testing.T) {
	ctx := context.Background()
	fake := &fakeDynamo{items: map[string]map[string]dynamodbtypes.AttributeValue{}}
	kv := NewDynamoKV(fake, "trips-table")

	if _, found, err := kv.Get(ctx, TripsKey); err != nil || found {
		t.Fatalf("missing key: found=%v err=%v", found, err)
	}
	if err := kv.Set(ctx, TripsKey, `[{"id":1}]`); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, found, err := kv.Get(ctx, TripsKey)
	if err != nil || !found || v != `[{"id":1}]` {
		t.Fatalf("get: v=%q found=%v err=%v", v, found, err)
	}

	fake.err = errUnavailable
	if _, _, err := kv.Get(ctx, TripsKey); !errors.Is(err, errUnavailable) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
