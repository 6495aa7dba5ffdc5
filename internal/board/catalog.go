package board

// DefaultName is the board used when a room does not name one.
const DefaultName = "trail30"

// builtins holds the built-in board catalog. The jump tables mix shortcuts
// (upward) and setbacks (downward), mirroring the classic trail layout used in
// guided sessions.
var builtins = map[string]Board{
	"trail30": {
		Name:     "trail30",
		Cells:    30,
		DieSides: 6,
		Jumps: map[int]int{
			5:  11,
			13: 4,
			17: 24,
			22: 9,
			27: 15,
		},
		Overshoot: OvershootBounce,
	},
	"trail50": {
		Name:     "trail50",
		Cells:    50,
		DieSides: 6,
		Jumps: map[int]int{
			7:  18,
			16: 3,
			23: 35,
			31: 12,
			38: 44,
			47: 29,
		},
		Overshoot: OvershootStay,
	},
}

// Catalog resolves board names to definitions.
type Catalog struct {
	boards map[string]Board
}

// NewCatalog returns a catalog seeded with the built-in boards.
func NewCatalog() *Catalog {
	boards := make(map[string]Board, len(builtins))
	for name, b := range builtins {
		boards[name] = b
	}
	return &Catalog{boards: boards}
}

// Register adds or replaces a board definition after validating it.
func (c *Catalog) Register(b Board) error {
	if err := b.Validate(); err != nil {
		return err
	}
	c.boards[b.Name] = b
	return nil
}

// Lookup returns the board for the given name. An empty name resolves to the
// default board.
func (c *Catalog) Lookup(name string) (Board, error) {
	if name == "" {
		name = DefaultName
	}
	b, ok := c.boards[name]
	if !ok {
		return Board{}, ErrUnknownBoard
	}
	return b, nil
}
