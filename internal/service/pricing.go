package service

import (
	"fmt"
	"time"

	"rental-marketplace/internal/models"
)

const dateLayout = "2006-01-02"

// Pricing holds billing rates in basis points.
type Pricing struct {
	Currency      string
	TaxBps        int64
	ServiceFeeBps int64
}

// Quote is the price of a rental in minor units
type Quote struct {
	Currency   string `json:"currency"`
	Days       int    `json:"days"`
	DailyPrice int64  `json:"daily_price"`
	Subtotal   int64  `json:"subtotal"`
	ServiceFee int64  `json:"service_fee"`
	Tax        int64  `json:"tax"`
	Deposit    int64  `json:"deposit"`
	Total      int64  `json:"total"`
}

// applyBps returns amount * bps / 10000 rounded half up. amount must be >= 0.
func applyBps(amount, bps int64) int64 {
	return (amount*bps + 5000) / 10000
}

// Quote prices days at dailyPrice. The deposit is neither taxed nor charged
// a service fee.
func (p Pricing) Quote(dailyPrice, deposit int64, days int) Quote {
	subtotal := dailyPrice * int64(days)
	fee := applyBps(subtotal, p.ServiceFeeBps)
	tax := applyBps(subtotal+fee, p.TaxBps)
	return Quote{
		Currency:   p.Currency,
		Days:       days,
		DailyPrice: dailyPrice,
		Subtotal:   subtotal,
		ServiceFee: fee,
		Tax:        tax,
		Deposit:    deposit,
		Total:      subtotal + fee + tax + deposit,
	}
}

// Invoice builds the invoice for a paid rental from the prices and rates
// captured on the request, so a rate change after the quote never changes
// what the renter is billed.
func (p Pricing) Invoice(r *models.RentalRequest, product *models.Product, payment *models.Payment, issued time.Time) *models.Invoice {
	rates := Pricing{Currency: p.Currency, TaxBps: r.TaxBps, ServiceFeeBps: r.ServiceFeeBps}
	q := rates.Quote(r.DailyPrice, r.Deposit, r.Days)

	items := []models.InvoiceItem{
		{
			Description: fmt.Sprintf("Rental of %s (%s to %s)", product.Title,
				r.StartDate.Format(dateLayout), r.EndDate.Format(dateLayout)),
			Quantity:   r.Days,
			UnitAmount: r.DailyPrice,
			Amount:     q.Subtotal,
		},
	}
	if q.ServiceFee > 0 {
		items = append(items, models.InvoiceItem{Description: "Service fee", Quantity: 1, UnitAmount: q.ServiceFee, Amount: q.ServiceFee})
	}
	if q.Deposit > 0 {
		items = append(items, models.InvoiceItem{Description: "Security deposit", Quantity: 1, UnitAmount: q.Deposit, Amount: q.Deposit})
	}

	return &models.Invoice{
		InvoiceNumber:   InvoiceNumber(issued, r.ID),
		RentalRequestID: r.ID,
		PaymentID:       payment.ID,
		RenterID:        r.RenterID,
		OwnerID:         r.OwnerID,
		Currency:        p.Currency,
		Subtotal:        q.Subtotal,
		ServiceFee:      q.ServiceFee,
		Tax:             q.Tax,
		Deposit:         q.Deposit,
		Total:           q.Total,
		Items:           items,
	}
}

// InvoiceNumber formats INV-YYYYMMDD-<rental id, 6 digits>
func InvoiceNumber(issued time.Time, rentalID int64) string {
	return fmt.Sprintf("INV-%s-%06d", issued.UTC().Format("20060102"), rentalID)
}

// RentalDays counts the days in an inclusive range
func RentalDays(start, end time.Time) int {
	return int(truncateDay(end).Sub(truncateDay(start)).Hours()/24) + 1
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar day as UTC midnight
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, time.UTC)
}
