package seed

import "time"

// Row types mirror the columns declared in the dataset catalog. Parquet
// column names must match the catalog so guarded SQL resolves against them.

type techTukProduct struct {
	ProductID int64   `parquet:"ProductId"`
	Name      string  `parquet:"Name"`
	Category  string  `parquet:"Category"`
	StockQty  int64   `parquet:"StockQty"`
	Price     float64 `parquet:"Price"`
}

type techTukSupplier struct {
	SupplierID int64  `parquet:"SupplierId"`
	Name       string `parquet:"Name"`
	Contact    string `parquet:"Contact"`
}

type techTukOrder struct {
	OrderID   int64     `parquet:"OrderId"`
	ProductID int64     `parquet:"ProductId"`
	Quantity  int64     `parquet:"Quantity"`
	OrderDate time.Time `parquet:"OrderDate,timestamp(millisecond)"`
}

type novotelFoodItem struct {
	FoodID       int64   `parquet:"FoodId"`
	Name         string  `parquet:"Name"`
	Category     string  `parquet:"Category"`
	Price        float64 `parquet:"Price"`
	Availability bool    `parquet:"Availability"`
}

type novotelStaff struct {
	StaffID int64  `parquet:"StaffId"`
	Name    string `parquet:"Name"`
	Role    string `parquet:"Role"`
	Shift   string `parquet:"Shift"`
}

type novotelOrder struct {
	OrderID   int64     `parquet:"OrderId"`
	FoodID    int64     `parquet:"FoodId"`
	Quantity  int64     `parquet:"Quantity"`
	OrderDate time.Time `parquet:"OrderDate,timestamp(millisecond)"`
}

type novotelSales struct {
	FoodID    int64 `parquet:"FoodId"`
	TotalSold int64 `parquet:"TotalSold"`
}

type pvrMovie struct {
	MovieID  int64   `parquet:"MovieId"`
	Name     string  `parquet:"Name"`
	Genre    string  `parquet:"Genre"`
	Rating   float64 `parquet:"Rating"`
	Duration int64   `parquet:"Duration"`
}

type pvrSnack struct {
	SnackID  int64   `parquet:"SnackId"`
	Name     string  `parquet:"Name"`
	Price    float64 `parquet:"Price"`
	StockQty int64   `parquet:"StockQty"`
}

type pvrStaff struct {
	StaffID int64  `parquet:"StaffId"`
	Name    string `parquet:"Name"`
	Role    string `parquet:"Role"`
}

type pvrShow struct {
	ShowID      int64     `parquet:"ShowId"`
	MovieID     int64     `parquet:"MovieId"`
	ShowTime    time.Time `parquet:"ShowTime,timestamp(millisecond)"`
	ScreenNo    int64     `parquet:"ScreenNo"`
	TicketsSold int64     `parquet:"TicketsSold"`
}

type pvrSales struct {
	MovieID          int64 `parquet:"MovieId"`
	TotalTicketsSold int64 `parquet:"TotalTicketsSold"`
}
