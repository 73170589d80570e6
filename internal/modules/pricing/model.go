// README: Pricing rate definition per zone and vehicle category.
package pricing

type Rate struct {
	ZoneID          string
	VehicleCategory string // empty matches any category
	BaseFare        int64
	PerKm           int64
	MinimumFare     int64
	Currency        string
}
