package adx

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// AuctionRecord is one auction trace shipped to ClickHouse.
type AuctionRecord struct {
	RequestID     string
	SspUUID       string
	PlacementID   string
	Result        string
	WinningDSP    uint64
	OriginalPrice float64
	FinalPrice    float64
	ElapsedMS     int64
	Timestamp     time.Time
	Calls         []dspCallDetail
}

// AnalyticsStore handles auction analytics storage in ClickHouse. The
// store is optional: the exchange runs without it when ClickHouse is
// unreachable at boot.
type AnalyticsStore struct {
	conn clickhouse.Conn
}

// NewAnalyticsStore connects to ClickHouse and ensures the tables exist.
func NewAnalyticsStore(addr string) (*AnalyticsStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	store := &AnalyticsStore{conn: conn}
	if err := store.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

// createTables creates the analytics tables in ClickHouse.
func (as *AnalyticsStore) createTables() error {
	ctx := context.Background()

	auctionsSchema := `
	CREATE TABLE IF NOT EXISTS adx_auctions (
		request_id String,
		ssp_uuid String,
		placement_id String,
		result String,
		winning_dsp UInt64,
		original_price Float64,
		final_price Float64,
		elapsed_ms Int64,
		timestamp DateTime
	) ENGINE = MergeTree()
	ORDER BY (timestamp, ssp_uuid)
	PARTITION BY toYYYYMM(timestamp)
	TTL timestamp + INTERVAL 90 DAY;
	`
	if err := as.conn.Exec(ctx, auctionsSchema); err != nil {
		return fmt.Errorf("failed to create adx_auctions table: %w", err)
	}

	callsSchema := `
	CREATE TABLE IF NOT EXISTS adx_dsp_calls (
		request_id String,
		dsp_id UInt64,
		url String,
		result String,
		bid_price Float64,
		inquiry_time_ms Int64,
		timestamp DateTime
	) ENGINE = MergeTree()
	ORDER BY (timestamp, dsp_id)
	PARTITION BY toYYYYMM(timestamp)
	TTL timestamp + INTERVAL 90 DAY;
	`
	if err := as.conn.Exec(ctx, callsSchema); err != nil {
		return fmt.Errorf("failed to create adx_dsp_calls table: %w", err)
	}

	return nil
}

// LogAuction inserts one auction row plus one row per DSP call.
func (as *AnalyticsStore) LogAuction(ctx context.Context, rec *AuctionRecord) error {
	err := as.conn.Exec(ctx, `
		INSERT INTO adx_auctions (request_id, ssp_uuid, placement_id, result, winning_dsp, original_price, final_price, elapsed_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID,
		rec.SspUUID,
		rec.PlacementID,
		rec.Result,
		rec.WinningDSP,
		rec.OriginalPrice,
		rec.FinalPrice,
		rec.ElapsedMS,
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert auction: %w", err)
	}

	batch, err := as.conn.PrepareBatch(ctx, "INSERT INTO adx_dsp_calls")
	if err != nil {
		return fmt.Errorf("failed to prepare dsp call batch: %w", err)
	}
	for _, call := range rec.Calls {
		if err := batch.Append(
			rec.RequestID,
			call.DSPID,
			call.URL,
			string(call.Result),
			call.BidPrice,
			call.InquiryTimeMS,
			rec.Timestamp,
		); err != nil {
			return fmt.Errorf("failed to append dsp call: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send dsp call batch: %w", err)
	}
	return nil
}

// Close closes the ClickHouse connection.
func (as *AnalyticsStore) Close() error {
	return as.conn.Close()
}
