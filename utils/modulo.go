package utils

import (
	"fmt"
	"net"
)

// Modulo representa un módulo del sistema con su servidor HTTP y sus handlers
type Modulo struct {
	Nombre      string
	Server      *HTTPServer
	HandlerFunc map[int]map[string]HTTPHandlerFunc
}

// NuevoModulo crea una nueva instancia de un módulo
func NuevoModulo(nombre string) *Modulo {
	return &Modulo{
		Nombre:      nombre,
		HandlerFunc: make(map[int]map[string]HTTPHandlerFunc),
	}
}

// RegistrarHandler registra un handler para un tipo de mensaje y operación específicos
func (m *Modulo) RegistrarHandler(tipo int, operacion string, handler HTTPHandlerFunc) {
	if _, existe := m.HandlerFunc[tipo]; !existe {
		m.HandlerFunc[tipo] = make(map[string]HTTPHandlerFunc)
	}
	m.HandlerFunc[tipo][operacion] = handler
}

// despachar elige el handler por operación, con "default" como respaldo
func (m *Modulo) despachar(tipo int, handlersPorOperacion map[string]HTTPHandlerFunc) HTTPHandlerFunc {
	return func(msg *Mensaje) (interface{}, error) {
		operacion := msg.Operacion
		if operacion == "" {
			operacion = "default"
		}

		handler, existe := handlersPorOperacion[operacion]
		if !existe {
			handler, existe = handlersPorOperacion["default"]
			if !existe {
				ErrorLog.Error("No hay handler para operación", "tipo", tipo, "operacion", operacion)
				return nil, fmt.Errorf("no hay handler para operación %s", operacion)
			}
		}

		return handler(msg)
	}
}

// PrepararServidor crea el servidor HTTP del módulo sin ponerlo a escuchar
func (m *Modulo) PrepararServidor(ip string, puerto int) *HTTPServer {
	m.Server = NewHTTPServer(ip, puerto, m.Nombre)
	for tipo, handlersPorOperacion := range m.HandlerFunc {
		m.Server.RegisterHTTPHandler(tipo, m.despachar(tipo, handlersPorOperacion))
	}
	return m.Server
}

// IniciarServidor crea el servidor y lo pone a escuchar en segundo plano.
// Devuelve un canal que recibe el error con el que termina el servidor.
func (m *Modulo) IniciarServidor(ip string, puerto int) (<-chan error, error) {
	server := m.PrepararServidor(ip, puerto)

	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", ip, puerto))
	if err != nil {
		ErrorLog.Error("Error al iniciar servidor HTTP", "error", err)
		return nil, fmt.Errorf("no se pudo escuchar en %s:%d: %w", ip, puerto, err)
	}
	server.Listener = listener

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	InfoLog.Info("Servidor HTTP iniciado", "módulo", m.Nombre, "dirección", listener.Addr().String())
	return errCh, nil
}

// ============================================================================
// Tipos de mensajes entre el kernel y la consola
// ============================================================================
const (
	// === COMUNICACIÓN BÁSICA (1-9) ===
	MensajeHandshake = 1 // Conexión inicial

	// === ESTADO DEL KERNEL (10-19) ===
	MensajeEstadoScheduler = 10 // Threads, prioridades, load_avg
	MensajeEstadoMemoria   = 11 // Tabla de marcos y swap

	// === OPERACIONES (20-29) ===
	MensajeVolcadoSwap = 20 // Volcado del disco de swap a archivo
)
