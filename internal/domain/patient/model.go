package patient

// Patient is the single record managed by the service. JSON field names are
// the wire contract shared with existing clients.
type Patient struct {
	ID      int    `json:"id"`
	Name    string `json:"nombre"`
	Cedula  string `json:"cedula"`
	Email   string `json:"correo"`
	Age     int    `json:"edad"`
	Address string `json:"direccion"`
	Active  bool   `json:"activo"`
}
