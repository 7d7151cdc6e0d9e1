// Package etsimport parses KNX ETS project archives (.knxproj) into a
// cross-referenced, immutable project model.
//
// ETS (Engineering Tool Software) is the standard configuration tool for KNX
// installations. A .knxproj file is a ZIP archive holding the manufacturer
// catalog (application programs, hardware), knx_master.xml and the project
// itself, nested as P-XXXX.zip and encrypted when the project is password
// protected. ETS4, ETS5 and ETS6 schemas are supported.
//
// # Usage
//
//	parser := etsimport.NewParser()
//	result, err := parser.ParseFile(ctx, "project.knxproj", etsimport.Options{
//	    Password: "secret",
//	    Language: "de-DE",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ga, _ := result.Project.GroupAddress("6/0/1")
//	for _, id := range ga.CommunicationObjectIDs {
//	    co, _ := result.Project.CommunicationObject(id)
//	    fmt.Printf("%s %s -> %s\n", co.DeviceAddress, co.Text, ga.Name)
//	}
//
// # Pipeline
//
// LoadArchive unwraps and decrypts the container and DetectGeneration picks
// the Schema from the manifest namespace. ResolveCatalog, BuildTopology,
// BuildGroupAddresses and CollectTranslations then run concurrently. Link
// joins device instances with catalog templates and group addresses,
// Overlay applies translated display text and Assemble validates the whole
// graph before the Project is returned.
//
// # Errors
//
// Fatal problems are returned as sentinel errors (ErrPasswordRequired,
// ErrWrongPassword, ErrUnsupportedArchive, ErrUnsupportedVersion), a
// *DocumentError for undecodable XML or a *ConsistencyError listing every
// violated structural invariant. Tolerable per-entity problems are reported
// as ParseWarning values alongside a successful result.
package etsimport
