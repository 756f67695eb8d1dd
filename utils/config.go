package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// CargarConfiguracion decodifica el archivo JSON de ruta en un T
func CargarConfiguracion[T any](ruta string) (*T, error) {
	InfoLog.Info("Cargando configuración", "ruta", ruta)

	absPath, err := filepath.Abs(ruta)
	if err != nil {
		ErrorLog.Error("Error obteniendo ruta absoluta", "error", err, "ruta", ruta)
		return nil, fmt.Errorf("ruta de configuración invalida %s: %w", ruta, err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		ErrorLog.Error("Error abriendo archivo de configuración", "error", err, "archivo", absPath)
		return nil, fmt.Errorf("error abriendo configuración: %w", err)
	}
	defer file.Close()

	var config T
	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&config); err != nil {
		ErrorLog.Error("Error decodificando configuración", "error", err, "archivo", absPath)
		return nil, fmt.Errorf("error decodificando configuración %s: %w", absPath, err)
	}

	InfoLog.Info("Configuración cargada correctamente", "archivo", absPath)
	return &config, nil
}
