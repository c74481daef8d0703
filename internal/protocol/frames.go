package protocol

// server-side frame constructors, used by the mock plugin server

func NewConnected() *Inbound {
	return &Inbound{Type: TypeConnected, Message: "WebSocket connected successfully"}
}

func NewStatus(sessionID, pluginID, status, message string) *Inbound {
	return &Inbound{
		Type:      TypeStatus,
		SessionID: sessionID,
		PluginID:  pluginID,
		Status:    status,
		Message:   message,
	}
}

func NewUpdate(sessionID, pluginID, output string) *Inbound {
	return &Inbound{
		Type:      TypeUpdate,
		SessionID: sessionID,
		PluginID:  pluginID,
		Status:    "running",
		Output:    output,
	}
}

// NewResult builds the completion frame. A non-empty errMsg marks the run failed.
func NewResult(sessionID, pluginID, output, errMsg string) *Inbound {
	success := errMsg == ""
	msg := &Inbound{
		Type:      TypeResult,
		SessionID: sessionID,
		PluginID:  pluginID,
		Success:   &success,
	}
	if success {
		msg.Status = "completed"
		msg.Output = output
	} else {
		msg.Status = "error"
		msg.Error = errMsg
	}
	return msg
}

func NewSubscribed(sessionID string) *Inbound {
	return &Inbound{Type: TypeSubscribed, SessionID: sessionID, Message: "Subscribed to session updates"}
}

func NewError(message string) *Inbound {
	return &Inbound{Type: TypeError, Message: message}
}
