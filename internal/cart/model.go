package cart

// Item is a validated cart line at checkout time. The cart itself is owned
// by an external collaborator; this core only reads it.
type Item struct {
	ProductID string
	Quantity  int
	Variant   string
}
