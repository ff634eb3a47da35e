package cli

// row is the parameter of one render item: a scanline of a frame.
type row struct {
	y       int
	width   int
	height  int
	maxIter int
	zoom    float64
	out     []uint16
}

// renderRow fills r.out with escape-time counts and returns their sum.
func renderRow(r *row) any {
	var sum uint64
	ci := (float64(r.y)/float64(r.height)*2 - 1) * 1.2 / r.zoom
	for x := 0; x < r.width; x++ {
		cr := ((float64(x)/float64(r.width))*3.5-2.5)/r.zoom - 0.5*(1-1/r.zoom)

		var zr, zi float64
		n := 0
		for ; n < r.maxIter && zr*zr+zi*zi <= 4; n++ {
			zr, zi = zr*zr-zi*zi+cr, 2*zr*zi+ci
		}
		r.out[x] = uint16(n)
		sum += uint64(n)
	}
	return sum
}

// frameRows prepares the rows of one frame; frames zoom in progressively.
func frameRows(frame, width, height, maxIter int) []row {
	zoom := 1 + float64(frame)*0.25
	rows := make([]row, height)
	for y := range rows {
		rows[y] = row{
			y:       y,
			width:   width,
			height:  height,
			maxIter: maxIter,
			zoom:    zoom,
			out:     make([]uint16, width),
		}
	}
	return rows
}
