package capture

// Point is a position in surface coordinates.
type Point struct {
	X, Y int32
}

// CursorBitmap is a cursor image. Pixels has Stride*Height bytes.
type CursorBitmap struct {
	Width  uint32
	Height uint32
	Stride uint32
	Format PixelFormat
	Pixels []byte
}

// CursorRecord is the cursor overlay travelling with a frame. A nil record
// means "no overlay this frame". Bitmap is nil when the cursor image did not
// change since the previous record with the same ID.
type CursorRecord struct {
	ID       uint32
	Position Point
	Hotspot  Point
	Bitmap   *CursorBitmap
}
