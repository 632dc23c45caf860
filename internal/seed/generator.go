// Package seed produces deterministic demo tables for every dataset and
// uploads them to the object store as Parquet snapshots.
package seed

import (
	"bytes"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/querydesk/querydesk/internal/dataset"
)

// Table is one encoded table snapshot.
type Table struct {
	Dataset dataset.ID
	Name    string
	Rows    int64
	Data    []byte
}

type Generator struct {
	rnd *rand.Rand
	// now anchors generated dates; rows fall in the year before it.
	now time.Time
}

func NewGenerator(seed int64, now time.Time) *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(seed)), now: now.UTC()}
}

// Tables builds every table of every catalog dataset. The same seed and
// anchor time yield the same rows.
func (g *Generator) Tables() ([]Table, error) {
	var out []Table
	for _, build := range []func() ([]Table, error){g.techTuk, g.novotel, g.pvrinox} {
		tables, err := build()
		if err != nil {
			return nil, err
		}
		out = append(out, tables...)
	}
	return out, nil
}

var (
	techCategories = []string{"Electronics", "Accessories", "Office", "Networking", "Peripherals"}
	techAdjectives = []string{"Pro", "Ultra", "Slim", "Wireless", "Gaming", "Ergonomic", "Smart", "Portable", "Mechanical", "Compact"}
	techNouns      = []string{"Laptop", "Mouse", "Keyboard", "Monitor", "Headphones", "Webcam", "Router", "Switch", "Charger", "SSD", "Tablet", "Printer"}
	techSuffixes   = []string{"Inc.", "Corp.", "Systems", "Ltd.", "Supplies", "Logistics"}
	techDomains    = []string{"example.com", "supply.example.org", "vendors.example.net"}
)

const (
	techTukProducts  = 150
	techTukSuppliers = 60
	techTukOrders    = 350
)

func (g *Generator) techTuk() ([]Table, error) {
	products := make([]techTukProduct, 0, techTukProducts)
	for i := 1; i <= techTukProducts; i++ {
		category := pick(g.rnd, techCategories)
		products = append(products, techTukProduct{
			ProductID: int64(i),
			Name:      fmt.Sprintf("%s %s %d", pick(g.rnd, techAdjectives), pick(g.rnd, techNouns), 100+g.rnd.Intn(9900)),
			Category:  category,
			StockQty:  g.stockLevel(),
			Price:     g.techPrice(category),
		})
	}

	seen := map[string]struct{}{}
	suppliers := make([]techTukSupplier, 0, techTukSuppliers)
	for len(suppliers) < techTukSuppliers {
		name := pick(g.rnd, append(append([]string{}, techAdjectives...), techNouns...)) + " " + pick(g.rnd, techSuffixes)
		if _, dup := seen[name]; dup {
			name = fmt.Sprintf("%s %d", name, len(suppliers)+1)
		}
		seen[name] = struct{}{}
		suppliers = append(suppliers, techTukSupplier{
			SupplierID: int64(len(suppliers) + 1),
			Name:       name,
			Contact:    g.contact(name),
		})
	}

	orders := make([]techTukOrder, 0, techTukOrders)
	for i := 1; i <= techTukOrders; i++ {
		orders = append(orders, techTukOrder{
			OrderID:   int64(i),
			ProductID: int64(1 + g.rnd.Intn(techTukProducts)),
			Quantity:  int64(1 + g.rnd.Intn(30)),
			OrderDate: g.daysAgo(365).Truncate(24 * time.Hour),
		})
	}

	return encodeAll(
		tableOf(dataset.TechTuk, "Products", products),
		tableOf(dataset.TechTuk, "Suppliers", suppliers),
		tableOf(dataset.TechTuk, "Orders", orders),
	)
}

// stockLevel puts about a quarter of products below 10 units and a quarter
// above 100.
func (g *Generator) stockLevel() int64 {
	switch p := g.rnd.Float64(); {
	case p < 0.25:
		return int64(g.rnd.Intn(10))
	case p < 0.5:
		return int64(101 + g.rnd.Intn(400))
	default:
		return int64(10 + g.rnd.Intn(91))
	}
}

func (g *Generator) techPrice(category string) float64 {
	switch category {
	case "Electronics":
		return g.priceBetween(50, 2000)
	case "Accessories":
		return g.priceBetween(10, 150)
	case "Office":
		return g.priceBetween(5, 500)
	default:
		return g.priceBetween(20, 300)
	}
}

func (g *Generator) contact(name string) string {
	if g.rnd.Float64() < 0.7 {
		local := strings.NewReplacer(" ", "", ".", "").Replace(strings.ToLower(name))
		return local + "@" + pick(g.rnd, techDomains)
	}
	return fmt.Sprintf("%03d-%03d-%04d", 100+g.rnd.Intn(900), 100+g.rnd.Intn(900), 1000+g.rnd.Intn(9000))
}

type menuItem struct {
	name      string
	category  string
	price     float64
	available bool
}

var novotelMenu = []menuItem{
	{"Paneer Tikka", "Starter", 350, true},
	{"Chicken Malai Tikka", "Starter", 450, true},
	{"Veg Crispy", "Starter", 280, true},
	{"Prawns Koliwada", "Starter", 550, true},
	{"Fish Fingers", "Starter", 420, false},
	{"Hara Bhara Kabab", "Starter", 300, true},
	{"Butter Chicken", "Main Course", 480, true},
	{"Paneer Butter Masala", "Main Course", 390, true},
	{"Dal Makhani", "Main Course", 350, true},
	{"Mutton Rogan Josh", "Main Course", 620, true},
	{"Veg Biryani", "Main Course", 350, true},
	{"Chicken Biryani", "Main Course", 450, true},
	{"Palak Paneer", "Main Course", 380, true},
	{"Garlic Naan", "Main Course", 80, true},
	{"Gulab Jamun", "Dessert", 150, true},
	{"Rasmalai", "Dessert", 180, true},
	{"Chocolate Brownie", "Dessert", 220, true},
	{"Gajar Halwa", "Dessert", 200, false},
	{"Fresh Lime Soda", "Beverage", 110, true},
	{"Iced Tea", "Beverage", 140, true},
	{"Cold Coffee", "Beverage", 180, true},
	{"Lassi", "Beverage", 130, true},
	{"Mango Shake", "Beverage", 210, false},
}

var (
	novotelRoles  = []string{"Chef", "Waiter", "Manager"}
	novotelShifts = []string{"Morning", "Evening", "Night"}
	staffFirst    = []string{"Rahul", "Amit", "Priya", "Neha", "Rohan", "Vikas", "Sneha", "Arjun", "Meera", "Kiran", "Anita", "Ravi"}
	staffLast     = []string{"Sharma", "Verma", "Singh", "Gupta", "Das", "Patil", "Kapoor", "Iyer", "Nair", "Rao"}
)

func (g *Generator) novotel() ([]Table, error) {
	food := make([]novotelFoodItem, 0, len(novotelMenu))
	for i, item := range novotelMenu {
		food = append(food, novotelFoodItem{
			FoodID:       int64(i + 1),
			Name:         item.name,
			Category:     item.category,
			Price:        item.price,
			Availability: item.available,
		})
	}

	staff := make([]novotelStaff, 0, 17)
	for i := 1; i <= 17; i++ {
		staff = append(staff, novotelStaff{
			StaffID: int64(i),
			Name:    g.personName(),
			// Roles rotate so each one is staffed.
			Role:  novotelRoles[(i-1)%len(novotelRoles)],
			Shift: novotelShifts[g.rnd.Intn(len(novotelShifts))],
		})
	}

	sold := make([]int64, len(food))
	count := 150 + g.rnd.Intn(101)
	orders := make([]novotelOrder, 0, count)
	for i := 1; i <= count; i++ {
		idx := g.rnd.Intn(len(food))
		qty := int64(1 + g.rnd.Intn(8))
		sold[idx] += qty
		orders = append(orders, novotelOrder{
			OrderID:   int64(i),
			FoodID:    food[idx].FoodID,
			Quantity:  qty,
			OrderDate: g.daysAgo(180).Truncate(time.Minute),
		})
	}

	summary := make([]novotelSales, 0, len(food))
	for i, item := range food {
		summary = append(summary, novotelSales{FoodID: item.FoodID, TotalSold: sold[i]})
	}

	return encodeAll(
		tableOf(dataset.Novotel, "FoodItems", food),
		tableOf(dataset.Novotel, "Staff", staff),
		tableOf(dataset.Novotel, "Orders", orders),
		tableOf(dataset.Novotel, "SalesSummary", summary),
	)
}

type movie struct {
	name     string
	genre    string
	rating   float64
	duration int64
}

var pvrMovies = []movie{
	{"Pathaan", "Action", 7.8, 146},
	{"Jawan", "Action", 8.2, 169},
	{"Oppenheimer", "Drama", 8.5, 180},
	{"12th Fail", "Drama", 9.2, 147},
	{"Dunki", "Comedy", 7.2, 161},
	{"Fukrey 3", "Comedy", 6.5, 150},
	{"Drishyam 2", "Thriller", 8.6, 140},
	{"Merry Christmas", "Thriller", 8.0, 144},
	{"Spider-Man: Across the Spider-Verse", "Animation", 9.0, 140},
	{"Kung Fu Panda 4", "Animation", 7.6, 94},
	{"Sam Bahadur", "Drama", 8.1, 150},
	{"Salaar", "Action", 7.1, 175},
}

type snack struct {
	name  string
	price float64
	stock int64
}

var pvrSnacks = []snack{
	{"Salted Popcorn (R)", 250, 100},
	{"Salted Popcorn (L)", 350, 80},
	{"Caramel Popcorn (L)", 400, 60},
	{"Nachos with Cheese", 250, 40},
	{"Coke (R)", 150, 200},
	{"Coke (L)", 200, 150},
	{"Chicken Nuggets", 220, 15},
	{"Veg Burger", 180, 10},
	{"Hot Dog", 200, 5},
	{"Combo: Popcorn + Coke", 450, 120},
	{"Mineral Water", 50, 300},
}

var pvrRoles = []string{"Projectionist", "Counter", "Cleaning"}

func (g *Generator) pvrinox() ([]Table, error) {
	movies := make([]pvrMovie, 0, len(pvrMovies))
	for i, m := range pvrMovies {
		movies = append(movies, pvrMovie{MovieID: int64(i + 1), Name: m.name, Genre: m.genre, Rating: m.rating, Duration: m.duration})
	}

	snacks := make([]pvrSnack, 0, len(pvrSnacks))
	for i, s := range pvrSnacks {
		snacks = append(snacks, pvrSnack{SnackID: int64(i + 1), Name: s.name, Price: s.price, StockQty: s.stock})
	}

	staff := make([]pvrStaff, 0, 13)
	for i := 1; i <= 13; i++ {
		staff = append(staff, pvrStaff{StaffID: int64(i), Name: g.personName(), Role: pvrRoles[(i-1)%len(pvrRoles)]})
	}

	sold := make([]int64, len(movies))
	count := 120 + g.rnd.Intn(81)
	shows := make([]pvrShow, 0, count)
	for i := 1; i <= count; i++ {
		idx := g.rnd.Intn(len(movies))
		tickets := int64(20 + g.rnd.Intn(231))
		sold[idx] += tickets
		shows = append(shows, pvrShow{
			ShowID:      int64(i),
			MovieID:     movies[idx].MovieID,
			ShowTime:    g.daysAgo(30).Truncate(15 * time.Minute),
			ScreenNo:    int64(1 + g.rnd.Intn(6)),
			TicketsSold: tickets,
		})
	}

	summary := make([]pvrSales, 0, len(movies))
	for i, m := range movies {
		summary = append(summary, pvrSales{MovieID: m.MovieID, TotalTicketsSold: sold[i]})
	}

	return encodeAll(
		tableOf(dataset.PVRINOX, "Movies", movies),
		tableOf(dataset.PVRINOX, "Snacks", snacks),
		tableOf(dataset.PVRINOX, "Staff", staff),
		tableOf(dataset.PVRINOX, "Shows", shows),
		tableOf(dataset.PVRINOX, "SalesSummary", summary),
	)
}

func (g *Generator) personName() string {
	return pick(g.rnd, staffFirst) + " " + pick(g.rnd, staffLast)
}

func (g *Generator) daysAgo(maxDays int) time.Time {
	offset := time.Duration(g.rnd.Int63n(int64(maxDays) * int64(24*time.Hour)))
	return g.now.Add(-offset)
}

func (g *Generator) priceBetween(lo, hi float64) float64 {
	return math.Round((lo+g.rnd.Float64()*(hi-lo))*100) / 100
}

func pick(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}

func tableOf[T any](id dataset.ID, name string, rows []T) func() (Table, error) {
	return func() (Table, error) {
		data, err := encodeParquet(rows)
		if err != nil {
			return Table{}, fmt.Errorf("encode %s/%s: %w", id, name, err)
		}
		return Table{Dataset: id, Name: name, Rows: int64(len(rows)), Data: data}, nil
	}
}

func encodeAll(builders ...func() (Table, error)) ([]Table, error) {
	tables := make([]Table, 0, len(builders))
	for _, build := range builders {
		table, err := build()
		if err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}
	return tables, nil
}

func encodeParquet[T any](rows []T) ([]byte, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("rows are required")
	}
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[T](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
