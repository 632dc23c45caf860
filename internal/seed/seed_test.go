package seed

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/parquet-go/parquet-go"
	"go.uber.org/goleak"

	"github.com/querydesk/querydesk/internal/dataset"
	"github.com/querydesk/querydesk/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var anchor = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func TestTablesCoverCatalog(t *testing.T) {
	tables := mustTables(t, 7)
	byKey := indexTables(tables)

	for _, ds := range dataset.All() {
		for _, table := range ds.Tables {
			got, ok := byKey[string(ds.ID)+"/"+table.Name]
			if !ok {
				t.Fatalf("missing seed table %s/%s", ds.ID, table.Name)
			}
			if got.Rows == 0 {
				t.Fatalf("%s/%s has no rows", ds.ID, table.Name)
			}

			file, err := parquet.OpenFile(bytes.NewReader(got.Data), int64(len(got.Data)))
			if err != nil {
				t.Fatalf("OpenFile(%s/%s) error = %v", ds.ID, table.Name, err)
			}
			var columns []string
			for _, field := range file.Schema().Fields() {
				columns = append(columns, field.Name())
			}
			var want []string
			for _, column := range table.Columns {
				want = append(want, column.Name)
			}
			sort.Strings(columns)
			sort.Strings(want)
			if diff := cmp.Diff(want, columns); diff != "" {
				t.Fatalf("%s/%s columns mismatch (-catalog +parquet):\n%s", ds.ID, table.Name, diff)
			}
		}
	}
	if want := totalCatalogTables(); len(tables) != want {
		t.Fatalf("tables = %d, want %d", len(tables), want)
	}
}

func TestTablesAreDeterministic(t *testing.T) {
	first := indexTables(mustTables(t, 42))
	second := indexTables(mustTables(t, 42))

	a := decode[techTukProduct](t, first["TechTuk/Products"])
	b := decode[techTukProduct](t, second["TechTuk/Products"])
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("products differ between runs (-first +second):\n%s", diff)
	}

	other := decode[techTukProduct](t, indexTables(mustTables(t, 43))["TechTuk/Products"])
	if cmp.Equal(a, other) {
		t.Fatal("different seeds produced identical products")
	}
}

func TestSalesSummariesMatchDetailRows(t *testing.T) {
	byKey := indexTables(mustTables(t, 11))

	orders := decode[novotelOrder](t, byKey["Novotel/Orders"])
	totals := map[int64]int64{}
	for _, order := range orders {
		totals[order.FoodID] += order.Quantity
	}
	for _, row := range decode[novotelSales](t, byKey["Novotel/SalesSummary"]) {
		if totals[row.FoodID] != row.TotalSold {
			t.Fatalf("food %d TotalSold = %d, orders sum to %d", row.FoodID, row.TotalSold, totals[row.FoodID])
		}
	}

	shows := decode[pvrShow](t, byKey["PVRINOX/Shows"])
	tickets := map[int64]int64{}
	for _, show := range shows {
		tickets[show.MovieID] += show.TicketsSold
		if show.ShowTime.After(anchor) || show.ShowTime.Before(anchor.AddDate(0, 0, -31)) {
			t.Fatalf("show %d time %s outside the last 30 days", show.ShowID, show.ShowTime)
		}
	}
	for _, row := range decode[pvrSales](t, byKey["PVRINOX/SalesSummary"]) {
		if tickets[row.MovieID] != row.TotalTicketsSold {
			t.Fatalf("movie %d TotalTicketsSold = %d, shows sum to %d", row.MovieID, row.TotalTicketsSold, tickets[row.MovieID])
		}
	}
}

func TestTechTukHasLowStockAndLaptops(t *testing.T) {
	products := decode[techTukProduct](t, indexTables(mustTables(t, 3))["TechTuk/Products"])
	var low, laptops int
	for _, product := range products {
		if product.StockQty < 10 {
			low++
		}
		if bytes.Contains([]byte(product.Name), []byte("Laptop")) {
			laptops++
		}
	}
	if low == 0 || laptops == 0 {
		t.Fatalf("low stock = %d, laptops = %d; want both > 0", low, laptops)
	}
}

func TestUploadWritesEveryTable(t *testing.T) {
	tables := mustTables(t, 5)
	store := newMemoryStore()

	summary, err := Uploader{Store: store, Concurrency: 3}.Upload(context.Background(), tables)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if summary.Tables != len(tables) {
		t.Fatalf("summary.Tables = %d, want %d", summary.Tables, len(tables))
	}

	var rows int64
	for _, table := range tables {
		rows += table.Rows
		key, _ := storage.BuildTablePath(string(table.Dataset), table.Name)
		obj, ok := store.get(key)
		if !ok {
			t.Fatalf("object %s not uploaded", key)
		}
		if !bytes.Equal(obj.data, table.Data) {
			t.Fatalf("object %s content mismatch", key)
		}
		if obj.contentType != storage.ContentTypeParquet {
			t.Fatalf("object %s content type = %q", key, obj.contentType)
		}
		if info := (storage.ObjectInfo{Metadata: obj.metadata}); info.Rows() != table.Rows {
			t.Fatalf("object %s rows metadata = %d, want %d", key, info.Rows(), table.Rows)
		}
	}
	if summary.Rows != rows {
		t.Fatalf("summary.Rows = %d, want %d", summary.Rows, rows)
	}
	if err := storage.VerifyTables(context.Background(), store, dataset.All()); err != nil {
		t.Fatalf("VerifyTables() after seeding error = %v", err)
	}
}

func TestUploadStopsOnFailure(t *testing.T) {
	store := newMemoryStore()
	store.failKey = "Novotel/Staff.parquet"

	_, err := Uploader{Store: store, Concurrency: 1}.Upload(context.Background(), mustTables(t, 5))
	if err == nil {
		t.Fatal("expected upload error")
	}
	if !errors.Is(err, errPutFailed) {
		t.Fatalf("error = %v, want errPutFailed", err)
	}
}

func TestUploadRejectsBadTableName(t *testing.T) {
	_, err := Uploader{Store: newMemoryStore()}.Upload(context.Background(), []Table{{Dataset: dataset.TechTuk, Name: "../etc", Data: []byte("x")}})
	if err == nil {
		t.Fatal("expected invalid path error")
	}
}

func TestUploadRequiresStore(t *testing.T) {
	if _, err := (Uploader{}).Upload(context.Background(), nil); err == nil {
		t.Fatal("expected error without store")
	}
}

func mustTables(t *testing.T, seed int64) []Table {
	t.Helper()
	tables, err := NewGenerator(seed, anchor).Tables()
	if err != nil {
		t.Fatalf("Tables() error = %v", err)
	}
	return tables
}

func indexTables(tables []Table) map[string]Table {
	out := make(map[string]Table, len(tables))
	for _, table := range tables {
		out[string(table.Dataset)+"/"+table.Name] = table
	}
	return out
}

func totalCatalogTables() int {
	total := 0
	for _, ds := range dataset.All() {
		total += len(ds.Tables)
	}
	return total
}

func decode[T any](t *testing.T, table Table) []T {
	t.Helper()
	rows, err := parquet.Read[T](bytes.NewReader(table.Data), int64(len(table.Data)))
	if err != nil {
		t.Fatalf("parquet.Read(%s/%s) error = %v", table.Dataset, table.Name, err)
	}
	if int64(len(rows)) != table.Rows {
		t.Fatalf("%s/%s decoded %d rows, want %d", table.Dataset, table.Name, len(rows), table.Rows)
	}
	return rows
}

var errPutFailed = errors.New("put failed")

type storedObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string]storedObject
	failKey string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string]storedObject{}}
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	if key == m.failKey {
		return storage.ObjectInfo{}, errPutFailed
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = storedObject{data: data, contentType: opts.ContentType, metadata: opts.Metadata}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	obj, ok := m.get(key)
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	obj, ok := m.get(key)
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(obj.data)), Metadata: obj.metadata}, nil
}

func (m *memoryStore) get(key string) (storedObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}
