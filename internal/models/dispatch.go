package models

// WhatsApp dispatch channels, in the order the pipeline tries them.
const (
	ChannelPDF   = "pdf"
	ChannelImage = "image"
	ChannelText  = "text"
)

// DispatchResult aggregates one WhatsApp pipeline run. A failed channel never
// turns into an error return; it shows up in Errors instead.
type DispatchResult struct {
	Phone      string   `json:"phone,omitempty"`
	SentPDF    bool     `json:"sent_pdf"`
	SentImage  bool     `json:"sent_image"`
	SentText   bool     `json:"sent_text"`
	MessageIDs []string `json:"message_ids,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// Delivered reports whether any channel reached the recipient.
func (r *DispatchResult) Delivered() bool {
	return r != nil && (r.SentPDF || r.SentImage || r.SentText)
}

// Channels lists the channels that succeeded.
func (r *DispatchResult) Channels() []string {
	if r == nil {
		return nil
	}
	var out []string
	if r.SentPDF {
		out = append(out, ChannelPDF)
	}
	if r.SentImage {
		out = append(out, ChannelImage)
	}
	if r.SentText {
		out = append(out, ChannelText)
	}
	return out
}

// AddError appends a channel-tagged error message.
func (r *DispatchResult) AddError(channel string, err error) {
	if err == nil {
		return
	}
	r.Errors = append(r.Errors, channel+": "+err.Error())
}
