package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/karigari/api/internal/domain"
)

var orderConfirmationTmpl = template.Must(template.New("order_confirmation").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <h2>Order Confirmed</h2>
  <p>Hi {{.UserName}},</p>
  <p>Your order has been confirmed and is being processed.</p>
  <p><strong>Order ID:</strong> {{.OrderID}}<br>
     <strong>Order Date:</strong> {{.OrderDate}}</p>
  <table width="100%" cellpadding="8" style="border-collapse: collapse;">
    <tr><th align="left">Item</th><th align="right">Price</th><th align="right">Total</th></tr>
    {{range .Items}}<tr>
      <td>{{.Title}} &times; {{.Quantity}}</td>
      <td align="right">&#8377;{{.Price}}</td>
      <td align="right">&#8377;{{.LineTotal}}</td>
    </tr>{{end}}
  </table>
  <p>
    Items Total: &#8377;{{.ItemsPrice}}<br>
    Tax: &#8377;{{.TaxPrice}}<br>
    Shipping: &#8377;{{.ShippingPrice}}<br>
    <strong>Grand Total: &#8377;{{.TotalPrice}}</strong>
  </p>
  <h3>Shipping Address</h3>
  <p>
    {{.Address.FullName}}<br>
    {{.Address.AddressLine1}}<br>
    {{if .Address.AddressLine2}}{{.Address.AddressLine2}}<br>{{end}}
    {{.Address.City}}, {{.Address.State}} - {{.Address.Pincode}}<br>
    {{.Address.Country}}<br>
    Phone: {{.Address.Phone}}
  </p>
  <p>We'll send you another email once your order has been shipped.</p>
</body>
</html>`))

var orderCancellationTmpl = template.Must(template.New("order_cancellation").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <h2>Order Cancelled</h2>
  <p>Hi {{.UserName}},</p>
  <p>Your order has been cancelled as requested.</p>
  <p><strong>Order ID:</strong> {{.OrderID}}<br>
     <strong>Cancelled On:</strong> {{.CancelledDate}}</p>
  <table width="100%" cellpadding="8" style="border-collapse: collapse;">
    <tr><th align="left">Item</th><th align="right">Amount</th></tr>
    {{range .Items}}<tr>
      <td>{{.Title}} &times; {{.Quantity}}</td>
      <td align="right">&#8377;{{.LineTotal}}</td>
    </tr>{{end}}
  </table>
  <p>{{.RefundMessage}}</p>
  <p>We hope to serve you again soon.</p>
</body>
</html>`))

var passwordResetOTPTmpl = template.Must(template.New("password_reset_otp").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <h2>Password Reset OTP</h2>
  <p>Hi {{.UserName}},</p>
  <p>You requested to reset your password. Use the OTP below to proceed:</p>
  <p style="font-size: 28px; font-weight: bold; letter-spacing: 6px;">{{.OTP}}</p>
  <p>This OTP will expire in {{.ExpiryMinutes}} minutes.</p>
  <p>If you didn't request a password reset, please ignore this email.</p>
</body>
</html>`))

type renderedItem struct {
	Title     string
	Quantity  int
	Price     string
	LineTotal string
}

func renderItems(items []domain.OrderItem) []renderedItem {
	out := make([]renderedItem, 0, len(items))
	for _, item := range items {
		out = append(out, renderedItem{
			Title:     item.Title,
			Quantity:  item.Quantity,
			Price:     formatAmount(item.Price),
			LineTotal: formatAmount(item.Price * float64(item.Quantity)),
		})
	}
	return out
}

func formatAmount(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}

func formatDate(t time.Time) string {
	return t.Format("2 January 2006")
}

func renderOrderConfirmation(msg OrderEmail) (string, error) {
	data := struct {
		UserName      string
		OrderID       string
		OrderDate     string
		Items         []renderedItem
		ItemsPrice    string
		TaxPrice      string
		ShippingPrice string
		TotalPrice    string
		Address       domain.Address
	}{
		UserName:      displayName(msg.UserName),
		OrderID:       msg.Order.ID,
		OrderDate:     formatDate(msg.Order.CreatedAt),
		Items:         renderItems(msg.Order.Items),
		ItemsPrice:    formatAmount(msg.Order.Pricing.ItemsPrice),
		TaxPrice:      formatAmount(msg.Order.Pricing.TaxPrice),
		ShippingPrice: formatAmount(msg.Order.Pricing.ShippingPrice),
		TotalPrice:    formatAmount(msg.Order.Pricing.TotalPrice),
		Address:       msg.Order.ShippingAddress,
	}

	var buf bytes.Buffer
	if err := orderConfirmationTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderOrderCancellation(msg OrderEmail) (string, error) {
	cancelledDate := ""
	if msg.Order.CancelledAt != nil {
		cancelledDate = formatDate(*msg.Order.CancelledAt)
	}

	refundMessage := "No payment was processed for this order, so no refund is necessary."
	if msg.Order.Payment.Status == domain.PaymentStatusCompleted {
		refundMessage = fmt.Sprintf(
			"Your refund of ₹%s will be processed within 5-7 business days to your original payment method.",
			formatAmount(msg.Order.Pricing.TotalPrice),
		)
	}

	data := struct {
		UserName      string
		OrderID       string
		CancelledDate string
		Items         []renderedItem
		RefundMessage string
	}{
		UserName:      displayName(msg.UserName),
		OrderID:       msg.Order.ID,
		CancelledDate: cancelledDate,
		Items:         renderItems(msg.Order.Items),
		RefundMessage: refundMessage,
	}

	var buf bytes.Buffer
	if err := orderCancellationTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderPasswordResetOTP(msg OTPEmail) (string, error) {
	expiry := msg.Expiry
	if expiry <= 0 {
		expiry = 10 * time.Minute
	}

	data := struct {
		UserName      string
		OTP           string
		ExpiryMinutes int
	}{
		UserName:      displayName(msg.UserName),
		OTP:           msg.OTP,
		ExpiryMinutes: int(expiry.Minutes()),
	}

	var buf bytes.Buffer
	if err := passwordResetOTPTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func displayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "there"
	}
	return name
}
