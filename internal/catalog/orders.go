package catalog

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// DefaultCustomerName addresses a caller whose number has no order history.
const DefaultCustomerName = "ग्राहक"

// AreaColumns lists the delivery-area columns of the order export, in the
// order used to pick a customer's area.
var AreaColumns = []string{
	"Mayur vihar",
	"Noida sector 2",
	"Noida sector 16",
	"Greater Noida west",
	"Noida sector 18",
	"Laxmi Nagar",
}

// Customer is one row of the order history.
type Customer struct {
	Name      string              `json:"name"`
	Phone     string              `json:"phone"`
	ShopName  string              `json:"shopName"`
	Address   string              `json:"address"`
	PastOrder []string            `json:"pastOrder"`
	Areas     map[string][]string `json:"areas"`
}

// Area returns the first area in [AreaColumns] with any products listed, or
// "" when none is set.
func (c Customer) Area() string {
	for _, a := range AreaColumns {
		if len(c.Areas[a]) > 0 {
			return a
		}
	}
	return ""
}

// Orders is the loaded order history.
type Orders []Customer

// LoadOrders reads the order CSV at path. A missing file returns no orders
// and no error.
func LoadOrders(path string) (Orders, error) {
	f, err := open(path, "orders")
	if f == nil {
		return nil, err
	}
	defer f.Close()
	return ReadOrders(f)
}

// ReadOrders parses order-history CSV from r.
func ReadOrders(r io.Reader) (Orders, error) {
	rows, err := readTable(r)
	if err != nil {
		return nil, fmt.Errorf("catalog: read orders: %w", err)
	}
	out := make(Orders, 0, len(rows))
	for _, row := range rows {
		c := Customer{
			Name:      row.get("Name"),
			Phone:     row.get("Phone no."),
			ShopName:  row.get("Shop Name"),
			Address:   row.get("Address"),
			PastOrder: splitList(row.get("Past oder")),
			Areas:     make(map[string][]string, len(AreaColumns)),
		}
		for _, a := range AreaColumns {
			c.Areas[a] = splitList(row.get(a))
		}
		out = append(out, c)
	}
	slog.Info("orders loaded", "customers", len(out))
	return out, nil
}

// FindCustomer returns the first customer whose phone matches phone after
// trimming.
func (o Orders) FindCustomer(phone string) (Customer, bool) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return Customer{}, false
	}
	for _, c := range o {
		if c.Phone == phone {
			return c, true
		}
	}
	return Customer{}, false
}

// splitList splits a comma-separated cell. An empty cell yields an empty,
// non-nil list so it encodes as [] rather than null.
func splitList(s string) []string {
	out := []string{}
	if s == "" {
		return out
	}
	for part := range strings.SplitSeq(s, ",") {
		out = append(out, strings.TrimSpace(part))
	}
	return out
}
