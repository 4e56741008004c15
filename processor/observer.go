package processor

import (
	"l4book/book"
	"l4book/logger"
)

// logObserver reports applier anomalies as warnings. Side flips are
// accepted but may point at a feed bug, so each one is logged.
type logObserver struct {
	market string
	log    *logger.Entry
}

func newLogObserver(market string) *logObserver {
	return &logObserver{
		market: market,
		log:    logger.GetLogger().WithComponent("ingest").WithMarket(market),
	}
}

func (o *logObserver) ParseError(e book.Entry, err error) {
	o.log.WithFields(logger.Fields{
		"oid":   e.OrderID,
		"side":  e.Side.String(),
		"price": e.Price,
		"size":  e.Size,
	}).WithError(err).Warn("skipping malformed delta entry")
}

func (o *logObserver) SideChanged(id string, from, to book.Side) {
	o.log.WithFields(logger.Fields{
		"oid":  id,
		"from": from.String(),
		"to":   to.String(),
	}).Warn("order changed side")
}

// NewBook creates a book whose anomalies are logged.
func NewBook(market string) *book.Book {
	return book.New(market, newLogObserver(market))
}
