package constant

const (
	DevelopmentEnvironment = "development"
	ProductionEnvironment  = "production"
)

const (
	OrderEventStreamName       = "ORDER_EVENTS"
	OrderEventStreamSubjectAll = "order-events.>"
)

func GetOrderEventSubject(venue string) string {
	return "order-events." + venue
}
