// Package geofence holds named polygon areas and point containment checks.
package geofence

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Point is one geographic coordinate pair.
// Params: latitude and longitude in decimal degrees.
// Returns: vertex or probe location for containment tests.
type Point struct {
	Lat float64
	Lng float64
}

// Polygon is one named closed area.
// Params: name, vertex ring, and cached bounding box.
// Returns: containment checks against the ring.
type Polygon struct {
	name     string
	vertices []Point

	minLat, maxLat float64
	minLng, maxLng float64
}

// NewPolygon builds one polygon from a vertex ring.
// Params: area name and at least three vertices.
// Returns: polygon with precomputed bounding box, or validation error.
func NewPolygon(name string, vertices []Point) (*Polygon, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("geofence name must not be empty")
	}
	if len(vertices) < 3 {
		return nil, fmt.Errorf("geofence %q needs at least 3 vertices, got %d", name, len(vertices))
	}
	poly := &Polygon{
		name:     name,
		vertices: vertices,
		minLat:   vertices[0].Lat,
		maxLat:   vertices[0].Lat,
		minLng:   vertices[0].Lng,
		maxLng:   vertices[0].Lng,
	}
	for _, v := range vertices[1:] {
		if v.Lat < poly.minLat {
			poly.minLat = v.Lat
		}
		if v.Lat > poly.maxLat {
			poly.maxLat = v.Lat
		}
		if v.Lng < poly.minLng {
			poly.minLng = v.Lng
		}
		if v.Lng > poly.maxLng {
			poly.maxLng = v.Lng
		}
	}
	return poly, nil
}

// Name returns the polygon's configured name.
// Params: none.
// Returns: area name.
func (p *Polygon) Name() string {
	return p.name
}

// Contains tests one point against the polygon.
// Params: probe latitude and longitude.
// Returns: true when the point is inside by the even-odd rule; the edge
// interval is half-open so shared borders count exactly once.
func (p *Polygon) Contains(lat, lng float64) bool {
	if lat < p.minLat || lat > p.maxLat || lng < p.minLng || lng > p.maxLng {
		return false
	}
	inside := false
	n := len(p.vertices)
	for i := 0; i < n; i++ {
		a := p.vertices[i]
		b := p.vertices[(i+1)%n]
		if min(a.Lat, b.Lat) < lat && lat <= max(a.Lat, b.Lat) {
			crossing := a.Lng + (lat-a.Lat)/(b.Lat-a.Lat)*(b.Lng-a.Lng)
			if crossing > lng {
				inside = !inside
			}
		}
	}
	return inside
}

// Registry holds the named geofences of one manager.
// Params: polygons in file order.
// Returns: name lookups and first-match containment scans.
type Registry struct {
	polygons []*Polygon
	byName   map[string]*Polygon
}

// NewRegistry builds a registry from polygons.
// Params: polygons in priority order.
// Returns: registry, or error on duplicate names.
func NewRegistry(polygons []*Polygon) (*Registry, error) {
	registry := &Registry{
		polygons: polygons,
		byName:   make(map[string]*Polygon, len(polygons)),
	}
	for _, poly := range polygons {
		key := strings.ToLower(poly.name)
		if _, exists := registry.byName[key]; exists {
			return nil, fmt.Errorf("duplicate geofence name %q", poly.name)
		}
		registry.byName[key] = poly
	}
	return registry, nil
}

// Get looks one geofence up by name.
// Params: area name, matched case-insensitively.
// Returns: polygon and presence flag.
func (r *Registry) Get(name string) (*Polygon, bool) {
	poly, ok := r.byName[strings.ToLower(name)]
	return poly, ok
}

// Names lists registered geofence names in file order.
// Params: none.
// Returns: ordered name slice.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.polygons))
	for _, poly := range r.polygons {
		names = append(names, poly.name)
	}
	return names
}

// Len reports the number of registered geofences.
// Params: none.
// Returns: polygon count.
func (r *Registry) Len() int {
	return len(r.polygons)
}

// LoadFile parses one geofence definition file.
// Params: path of a text file with `[name]` headers and `lat,lng` lines.
// Returns: registry, or error naming the offending line; any malformed
// line rejects the whole file.
func LoadFile(path string) (*Registry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geofence file: %w", err)
	}
	defer file.Close()
	return parse(file, path)
}

// parse reads geofence definitions from one reader.
// Params: line source and display name for errors.
// Returns: registry or parse error with line number.
func parse(file *os.File, path string) (*Registry, error) {
	var (
		polygons []*Polygon
		name     string
		vertices []Point
	)
	flush := func() error {
		if name == "" {
			return nil
		}
		poly, err := NewPolygon(name, vertices)
		if err != nil {
			return err
		}
		polygons = append(polygons, poly)
		name = ""
		vertices = nil
		return nil
	}

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			if err := flush(); err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
			}
			name = strings.TrimSpace(line[1 : len(line)-1])
			if name == "" {
				return nil, fmt.Errorf("%s:%d: empty geofence name", path, lineNo)
			}
			continue
		}
		if name == "" {
			return nil, fmt.Errorf("%s:%d: coordinate before any [name] header", path, lineNo)
		}
		point, err := parsePoint(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		vertices = append(vertices, point)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read geofence file: %w", err)
	}
	if err := flush(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewRegistry(polygons)
}

// parsePoint parses one `lat,lng` coordinate line.
// Params: trimmed line text.
// Returns: point or format error.
func parsePoint(line string) (Point, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 2 {
		return Point{}, fmt.Errorf("expected lat,lng, got %q", line)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("bad latitude %q", parts[0])
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("bad longitude %q", parts[1])
	}
	if lat < -90 || lat > 90 {
		return Point{}, fmt.Errorf("latitude %v out of range", lat)
	}
	if lng < -180 || lng > 180 {
		return Point{}, fmt.Errorf("longitude %v out of range", lng)
	}
	return Point{Lat: lat, Lng: lng}, nil
}
