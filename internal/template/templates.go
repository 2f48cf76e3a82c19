package template

type templateSource struct {
	subject string
	text    string
	html    string
}

// templateSources holds the built-in message copy. Localized variants are
// out of scope; there is exactly one copy per template key.
var templateSources = map[string]templateSource{
	KeyClaimSubmitted: {
		subject: `Claim {{ .Payload.ClaimNumber }} received`,
		text: `Hello {{ .Payload.ClaimantName | default "there" }},

We received your claim {{ .Payload.ClaimNumber }} for {{ printf "%.2f" .Payload.Amount }} {{ .Payload.Currency | upper }}.

Track its progress at {{ .BaseURL }}/claims/{{ .Payload.ClaimNumber }}.
`,
		html: `<p>Hello {{ .Payload.ClaimantName | default "there" }},</p>
<p>We received your claim <strong>{{ .Payload.ClaimNumber }}</strong> for {{ printf "%.2f" .Payload.Amount }} {{ .Payload.Currency | upper }}.</p>
<p><a href="{{ .BaseURL }}/claims/{{ .Payload.ClaimNumber }}">Track its progress</a>.</p>
`,
	},
	KeyPaymentIssued: {
		subject: `Payment {{ .Payload.PaymentRef }} on claim {{ .Payload.ClaimNumber }}`,
		text: `A payment of {{ printf "%.2f" .Payload.Amount }} {{ .Payload.Currency | upper }} was issued on claim {{ .Payload.ClaimNumber }} (reference {{ .Payload.PaymentRef }}).

Details: {{ .BaseURL }}/claims/{{ .Payload.ClaimNumber }}/payments
`,
		html: `<p>A payment of {{ printf "%.2f" .Payload.Amount }} {{ .Payload.Currency | upper }} was issued on claim <strong>{{ .Payload.ClaimNumber }}</strong> (reference {{ .Payload.PaymentRef }}).</p>
<p><a href="{{ .BaseURL }}/claims/{{ .Payload.ClaimNumber }}/payments">View payment details</a>.</p>
`,
	},
	KeyPayeeApproved: {
		subject: `Your payee profile was approved`,
		text: `Hello {{ .Payload.PayeeName | default "there" }},

Your payee profile was approved{{ with .Payload.ApprovedBy }} by {{ . }}{{ end }}. You can now receive payments.

Manage your profile at {{ .BaseURL }}/payees
`,
		html: `<p>Hello {{ .Payload.PayeeName | default "there" }},</p>
<p>Your payee profile was approved{{ with .Payload.ApprovedBy }} by {{ . }}{{ end }}. You can now receive payments.</p>
<p><a href="{{ .BaseURL }}/payees">Manage your profile</a>.</p>
`,
	},
}
