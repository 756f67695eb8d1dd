package main

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sisoputnfrba/gokernel/utils"
)

func configPrueba(t *testing.T, escenario string) *KernelConfig {
	t.Helper()
	dir := t.TempDir()
	return &KernelConfig{
		IPKernel:     "127.0.0.1",
		LogLevel:     "error",
		MLFQS:        escenario == "mlfqs",
		UserPages:    8,
		SwapSectors:  512,
		SwapfilePath: filepath.Join(dir, "swap.bin"),
		DumpPath:     filepath.Join(dir, "dumps"),
		Escenario:    escenario,
	}
}

func correr(t *testing.T, escenario string) *kernel {
	t.Helper()
	k, err := inicializarKernel(configPrueba(t, escenario))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(k.apagar)
	if err := correrEscenario(k, escenario); err != nil {
		t.Fatal(err)
	}
	return k
}

func TestValidarConfig(t *testing.T) {
	tests := []struct {
		name    string
		cambiar func(c *KernelConfig)
	}{
		{"sin paginas de usuario", func(c *KernelConfig) { c.UserPages = 0 }},
		{"swap negativo", func(c *KernelConfig) { c.SwapSectors = -1 }},
		{"swap sin archivo", func(c *KernelConfig) { c.SwapfilePath = "" }},
		{"escenario desconocido", func(c *KernelConfig) { c.Escenario = "nada" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := configPrueba(t, "donacion")
			tt.cambiar(cfg)
			if err := validarConfig(cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if err := validarConfig(configPrueba(t, "memoria")); err != nil {
		t.Fatal(err)
	}
}

func TestEscenarioDonacion(t *testing.T) {
	correr(t, "donacion")

	want := []string{
		"main tiene prioridad 33 por donación",
		"medio obtuvo a con prioridad 33",
		"alto obtuvo b",
		"medio terminó con prioridad 32",
		"main volvió a prioridad 31",
	}
	got := reporte.Eventos()
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("eventos:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestEscenarioAlarma(t *testing.T) {
	k := correr(t, "alarma")

	got := reporte.Eventos()
	orden := []string{"dormilon-1", "dormilon-2", "dormilon-0"}
	if len(got) != len(orden) {
		t.Fatalf("eventos = %q", got)
	}
	for i, nombre := range orden {
		if !strings.HasPrefix(got[i], nombre+" ") {
			t.Errorf("evento %d = %q, want %s", i, got[i], nombre)
		}
	}
	if k.sched.Stats().IdleTicks < 30 {
		t.Fatalf("idle ticks = %d", k.sched.Stats().IdleTicks)
	}
}

func TestEscenarioMLFQS(t *testing.T) {
	correr(t, "mlfqs")

	got := reporte.Eventos()
	if len(got) != 4 {
		t.Fatalf("eventos = %q", got)
	}
	for _, ev := range got[:3] {
		if !strings.HasPrefix(ev, "nice-") {
			t.Errorf("evento %q", ev)
		}
	}
	if !strings.HasPrefix(got[3], "load_avg=") || reporte.loadAvg <= 0 {
		t.Fatalf("load_avg = %d, evento %q", reporte.loadAvg, got[3])
	}
}

func TestEscenarioMLFQSRequiereMLFQS(t *testing.T) {
	cfg := configPrueba(t, "mlfqs")
	cfg.MLFQS = false
	k, err := inicializarKernel(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer k.apagar()
	if err := correrEscenario(k, "mlfqs"); err == nil {
		t.Fatal("expected error without MLFQS")
	}
}

func TestEscenarioMemoria(t *testing.T) {
	correr(t, "memoria")

	eventos := strings.Join(reporte.Eventos(), "\n")
	for _, want := range []string{
		"páginas escrito",
		"pila extendida hasta 0x4747c000",
		`munmap escribió "MODIFICADO" al archivo`,
		"hijo verificó heap y código heredados",
		"terminó",
	} {
		if !strings.Contains(eventos, want) {
			t.Errorf("missing event %q in:\n%s", want, eventos)
		}
	}
	if strings.Contains(eventos, "con error") {
		t.Fatalf("process failed:\n%s", eventos)
	}

	if reporte.libresUsuario != 8 || reporte.swapUsados != 0 || reporte.swapTotal != 64 {
		t.Fatalf("memoria final: libres %d swap %d/%d", reporte.libresUsuario, reporte.swapUsados, reporte.swapTotal)
	}
	if reporte.memoria.Evictions == 0 || reporte.memoria.StackGrowths != 4 {
		t.Fatalf("stats = %+v", reporte.memoria)
	}
	if _, err := os.Stat(reporte.volcado); err != nil {
		t.Fatalf("volcado: %v", err)
	}
}

func TestHandlers(t *testing.T) {
	correr(t, "memoria")

	m := utils.NuevoModulo("Kernel")
	registrarHandlers(m)
	srv := httptest.NewServer(m.PrepararServidor("127.0.0.1", 0).Handler())
	defer srv.Close()
	c := utils.NewHTTPClientURL(srv.URL, "Consola")

	var hs map[string]interface{}
	if err := c.EnviarHTTPMensaje(utils.MensajeHandshake, "", nil, &hs); err != nil {
		t.Fatal(err)
	}
	if hs["status"] != "OK" || hs["escenario"] != "memoria" || hs["terminado"] != true {
		t.Fatalf("handshake = %v", hs)
	}

	var sched struct {
		Threads []struct {
			Nombre string `json:"nombre"`
		} `json:"threads"`
		Eventos []string `json:"eventos"`
	}
	if err := c.EnviarHTTPMensaje(utils.MensajeEstadoScheduler, "", nil, &sched); err != nil {
		t.Fatal(err)
	}
	// solo quedan main e idle
	if len(sched.Threads) != 2 || len(sched.Eventos) == 0 {
		t.Fatalf("scheduler = %+v", sched)
	}

	var mem map[string]interface{}
	if err := c.EnviarHTTPMensaje(utils.MensajeEstadoMemoria, "", nil, &mem); err != nil {
		t.Fatal(err)
	}
	if mem["swap_total"] != float64(64) || mem["ultimo_volcado"] == "" {
		t.Fatalf("memoria = %v", mem)
	}

	var marcos []map[string]interface{}
	if err := c.EnviarHTTPMensaje(utils.MensajeEstadoMemoria, "marcos", map[string]int{"espacio": 999}, &marcos); err != nil {
		t.Fatal(err)
	}
	if len(marcos) != 0 {
		t.Fatalf("marcos del espacio 999 = %v", marcos)
	}

	var volcado struct {
		Status    string            `json:"status"`
		Slots     int               `json:"slots"`
		Usados    int               `json:"usados"`
		Contenido map[string]string `json:"contenido"`
	}
	if err := c.EnviarHTTPMensaje(utils.MensajeVolcadoSwap, "", map[string]int{"bytes": 4}, &volcado); err != nil {
		t.Fatal(err)
	}
	if volcado.Status != "OK" || volcado.Slots != 64 || volcado.Usados == 0 || len(volcado.Contenido) != volcado.Usados {
		t.Fatalf("volcado = %+v", volcado)
	}
}
