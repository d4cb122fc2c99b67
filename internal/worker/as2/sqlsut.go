package as2

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"txbench/internal/worker"
	"txbench/pkg/bench"
)

const (
	sqlCreateItem = `CREATE TABLE IF NOT EXISTS item (
	i_id INT NOT NULL PRIMARY KEY,
	i_im_id INT,
	i_name VARCHAR(24),
	i_price DOUBLE PRECISION,
	i_data VARCHAR(50)
)`
	sqlDropItem    = `DROP TABLE IF EXISTS item`
	sqlCountItems  = `SELECT COUNT(*) FROM item`
	sqlSelectItem  = `SELECT i_name, i_price FROM item WHERE i_id = ?`
	sqlSelectPrice = `SELECT i_price FROM item WHERE i_id = ?`
	sqlUpdatePrice = `UPDATE item SET i_price = ? WHERE i_id = ?`
	sqlInsertItems = `INSERT INTO item (i_id, i_im_id, i_name, i_price, i_data) VALUES `
)

var errItemNotFound = errors.New("item not found")

// rebind rewrites ? placeholders into the numbered form postgres expects.
func rebind(driver worker.Driver, query string) string {
	if driver != worker.DriverPostgres {
		return query
	}

	var sb strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(c)
	}
	return sb.String()
}

// sqlConnection pins one connection of the pool to a terminal.
type sqlConnection struct {
	conn      *sql.Conn
	isolation sql.IsolationLevel

	selectItem  string
	selectPrice string
	updatePrice string
}

func openSQLConnection(ctx context.Context, db *sql.DB, driver worker.Driver, isolation sql.IsolationLevel) (*sqlConnection, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &sqlConnection{
		conn:        conn,
		isolation:   isolation,
		selectItem:  rebind(driver, sqlSelectItem),
		selectPrice: rebind(driver, sqlSelectPrice),
		updatePrice: rebind(driver, sqlUpdatePrice),
	}, nil
}

func (c *sqlConnection) Close() error { return c.conn.Close() }

func (c *sqlConnection) Execute(ctx context.Context, txType bench.TxnType, params bench.Params) (bench.Outcome, error) {
	switch txType {
	case ReadItem:
		ids, err := readParams(params)
		if err != nil {
			return bench.Outcome{}, err
		}
		return c.readItems(ctx, ids)
	case UpdateItem:
		updates, err := updateParams(params)
		if err != nil {
			return bench.Outcome{}, err
		}
		return c.updateItems(ctx, updates)
	default:
		return bench.Outcome{}, fmt.Errorf("%w: %v", bench.ErrUnknownTxnType, txType)
	}
}

type itemInfo struct {
	Name  string
	Price float64
}

func (c *sqlConnection) readItems(ctx context.Context, ids []int) (bench.Outcome, error) {
	tx, err := c.conn.BeginTx(ctx, &sql.TxOptions{Isolation: c.isolation, ReadOnly: true})
	if err != nil {
		return bench.Outcome{}, err
	}
	defer tx.Rollback()

	items := make([]itemInfo, len(ids))
	for i, id := range ids {
		err := tx.QueryRowContext(ctx, c.selectItem, id).Scan(&items[i].Name, &items[i].Price)
		if errors.Is(err, sql.ErrNoRows) {
			return bench.Outcome{}, fmt.Errorf("read item %v: %w", id, errItemNotFound)
		}
		if err != nil {
			return bench.Outcome{}, fmt.Errorf("read item %v: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return bench.Outcome{}, err
	}
	return bench.Outcome{Committed: true, Output: items}, nil
}

func (c *sqlConnection) updateItems(ctx context.Context, updates []priceUpdate) (bench.Outcome, error) {
	tx, err := c.conn.BeginTx(ctx, &sql.TxOptions{Isolation: c.isolation})
	if err != nil {
		return bench.Outcome{}, err
	}
	defer tx.Rollback()

	for _, u := range updates {
		var price float64
		err := tx.QueryRowContext(ctx, c.selectPrice, u.id).Scan(&price)
		if errors.Is(err, sql.ErrNoRows) {
			return bench.Outcome{}, fmt.Errorf("update item %v: %w", u.id, errItemNotFound)
		}
		if err != nil {
			return bench.Outcome{}, fmt.Errorf("update item %v: %w", u.id, err)
		}

		if _, err := tx.ExecContext(ctx, c.updatePrice, newPrice(price, u.delta), u.id); err != nil {
			return bench.Outcome{}, fmt.Errorf("update item %v: %w", u.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return bench.Outcome{}, err
	}
	return bench.Outcome{Committed: true}, nil
}

func sqlLoadItems(ctx context.Context, db *sql.DB, driver worker.Driver, items, batchSize int, seed uint64) error {
	if _, err := db.ExecContext(ctx, sqlCreateItem); err != nil {
		return fmt.Errorf("create item table: %w", err)
	}

	var existing int
	if err := db.QueryRowContext(ctx, sqlCountItems).Scan(&existing); err != nil {
		return fmt.Errorf("count items: %w", err)
	}
	if existing >= items {
		log.Printf("AS2 Prepare: item table already holds %d items, skip loading", existing)
		return nil
	}

	r := rand.New(rand.NewPCG(seed, 0))
	for start := existing + 1; start <= items; start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(start+batchSize-1, items)
		query, args := sqlInsertBatch(driver, r, start, end)
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert items %d-%d: %w", start, end, err)
		}
		if end%(batchSize*100) == 0 || end == items {
			log.Printf("AS2 Prepare: loaded %d/%d items", end, items)
		}
	}
	return nil
}

func sqlInsertBatch(driver worker.Driver, r *rand.Rand, start, end int) (string, []any) {
	var sb strings.Builder
	sb.WriteString(sqlInsertItems)

	args := make([]any, 0, 5*(end-start+1))
	for id := start; id <= end; id++ {
		if id > start {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?)")

		row := itemAt(r, id)
		args = append(args, row.id, row.imID, row.name, row.price, row.data)
	}
	return rebind(driver, sb.String()), args
}

func sqlDropItems(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, sqlDropItem); err != nil {
		return fmt.Errorf("drop item table: %w", err)
	}
	return nil
}

func sqlCheckItems(ctx context.Context, db *sql.DB, items int) error {
	var count int
	if err := db.QueryRowContext(ctx, sqlCountItems).Scan(&count); err != nil {
		return fmt.Errorf("count items: %w", err)
	}
	if count < items {
		return fmt.Errorf("expected %d items, found %d", items, count)
	}
	return nil
}
